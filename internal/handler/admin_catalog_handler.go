package handler

import (
	"errors"
	"io"
	"net/http"

	"fwstore/internal/middleware"
	"fwstore/internal/repository"
	"fwstore/internal/service"

	"github.com/gin-gonic/gin"
)

// maxIconSize caps brand and firmware icon uploads.
const maxIconSize = 5 << 20

// AdminCatalogHandler manages brands and firmware. Requests may be JSON or multipart; an
// "icon" file part is uploaded to Cloudinary.
type AdminCatalogHandler struct {
	catalog *service.CatalogService
}

func NewAdminCatalogHandler(catalog *service.CatalogService) *AdminCatalogHandler {
	return &AdminCatalogHandler{catalog: catalog}
}

type BrandRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
}

type FirmwareRequest struct {
	BrandID     uint   `json:"brand_id" form:"brand_id"`
	Model       string `json:"model" form:"model"`
	Version     string `json:"version" form:"version"`
	Description string `json:"description" form:"description"`
	Price       *int64 `json:"price" form:"price"`
	FileURL     string `json:"file_url" form:"file_url" binding:"omitempty,url"`
	FileName    string `json:"file_name" form:"file_name"`
	IsActive    *bool  `json:"is_active" form:"is_active"`
}

// iconFile opens the optional "icon" part. A nil reader means no icon was sent.
func iconFile(c *gin.Context) (io.ReadCloser, error) {
	fh, err := c.FormFile("icon")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Size > maxIconSize {
		return nil, errors.New("icon too large")
	}
	return fh.Open()
}

// withIcon runs fn with the uploaded icon, if any, and closes it afterwards.
func withIcon(c *gin.Context, fn func(icon io.Reader)) {
	f, err := iconFile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid icon: " + err.Error()})
		return
	}
	if f == nil {
		fn(nil)
		return
	}
	defer f.Close()
	fn(f)
}

// ListFirmware handles GET /admin/firmwares, including inactive entries.
func (h *AdminCatalogHandler) ListFirmware(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.catalog.SearchFirmware(c.Request.Context(), repository.FirmwareFilter{
		Query: c.Query("q"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		respondError(c, err, "failed to list firmware")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// GetFirmware handles GET /admin/firmwares/:id.
func (h *AdminCatalogHandler) GetFirmware(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	fw, err := h.catalog.GetFirmware(c.Request.Context(), id, true)
	if err != nil {
		respondError(c, err, "failed to load firmware")
		return
	}
	c.JSON(http.StatusOK, gin.H{"firmware": fw, "file_url": fw.FileURL})
}

func (h *AdminCatalogHandler) CreateBrand(c *gin.Context) {
	var req BrandRequest
	if err := c.ShouldBind(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	withIcon(c, func(icon io.Reader) {
		b, err := h.catalog.CreateBrand(c.Request.Context(), service.BrandInput{Name: req.Name, Description: req.Description, Icon: icon})
		if err != nil {
			respondError(c, err, "failed to create brand")
			return
		}
		c.JSON(http.StatusCreated, b)
	})
}

func (h *AdminCatalogHandler) UpdateBrand(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req BrandRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	withIcon(c, func(icon io.Reader) {
		b, err := h.catalog.UpdateBrand(c.Request.Context(), id, service.BrandInput{Name: req.Name, Description: req.Description, Icon: icon})
		if err != nil {
			respondError(c, err, "failed to update brand")
			return
		}
		c.JSON(http.StatusOK, b)
	})
}

func (h *AdminCatalogHandler) DeleteBrand(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteBrand(c.Request.Context(), id); err != nil {
		respondError(c, err, "failed to delete brand")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r FirmwareRequest) input() service.FirmwareInput {
	return service.FirmwareInput{
		BrandID:     r.BrandID,
		Model:       r.Model,
		Version:     r.Version,
		Description: r.Description,
		Price:       r.Price,
		FileURL:     r.FileURL,
		FileName:    r.FileName,
		IsActive:    r.IsActive,
	}
}

func (h *AdminCatalogHandler) CreateFirmware(c *gin.Context) {
	var req FirmwareRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BrandID == 0 || req.Model == "" || req.Version == "" || req.FileURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "brand_id, model, version and file_url are required"})
		return
	}
	withIcon(c, func(icon io.Reader) {
		in := req.input()
		in.Icon = icon
		fw, err := h.catalog.CreateFirmware(c.Request.Context(), middleware.GetUserID(c), in)
		if err != nil {
			respondError(c, err, "failed to create firmware")
			return
		}
		c.JSON(http.StatusCreated, fw)
	})
}

func (h *AdminCatalogHandler) UpdateFirmware(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req FirmwareRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	withIcon(c, func(icon io.Reader) {
		in := req.input()
		in.Icon = icon
		fw, err := h.catalog.UpdateFirmware(c.Request.Context(), id, in)
		if err != nil {
			respondError(c, err, "failed to update firmware")
			return
		}
		c.JSON(http.StatusOK, fw)
	})
}

func (h *AdminCatalogHandler) DeleteFirmware(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteFirmware(c.Request.Context(), id); err != nil {
		respondError(c, err, "failed to delete firmware")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
