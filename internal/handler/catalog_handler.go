package handler

import (
	"net/http"
	"strconv"

	"fwstore/internal/repository"
	"fwstore/internal/service"

	"github.com/gin-gonic/gin"
)

// CatalogHandler serves the public brand and firmware listings.
type CatalogHandler struct {
	catalog *service.CatalogService
}

func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListBrands handles GET /brands.
func (h *CatalogHandler) ListBrands(c *gin.Context) {
	brands, err := h.catalog.ListBrands(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list brands")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": brands})
}

// GetBrand handles GET /brands/:id and includes the brand's active firmware.
func (h *CatalogHandler) GetBrand(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := h.catalog.GetBrand(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to load brand")
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListFirmware handles GET /firmwares?brand_id=&q=.
func (h *CatalogHandler) ListFirmware(c *gin.Context) {
	page, limit := parsePagination(c)
	brandID, _ := strconv.ParseUint(c.Query("brand_id"), 10, 64)
	list, total, err := h.catalog.SearchFirmware(c.Request.Context(), repository.FirmwareFilter{
		BrandID:    uint(brandID),
		Query:      c.Query("q"),
		ActiveOnly: true,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err, "failed to list firmware")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// GetFirmware handles GET /firmwares/:id.
func (h *CatalogHandler) GetFirmware(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	fw, err := h.catalog.GetFirmware(c.Request.Context(), id, false)
	if err != nil {
		respondError(c, err, "failed to load firmware")
		return
	}
	c.JSON(http.StatusOK, fw)
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// paramID parses a numeric path parameter, answering 400 itself when it is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
