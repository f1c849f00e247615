package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/cloudinary"
	"fwstore/pkg/logging"
)

var (
	ErrBrandNotFound   = errors.New("brand not found")
	ErrBrandExists     = errors.New("brand already exists")
	ErrUploadsDisabled = errors.New("image uploads are not configured")
)

const (
	brandIconFolder    = "fwstore/brands"
	firmwareIconFolder = "fwstore/firmwares"
)

// CatalogService manages brands and firmware metadata, including their icons.
type CatalogService struct {
	brands    *repository.BrandRepository
	firmwares *repository.FirmwareRepository
	images    cloudinary.Client // nil when uploads are not configured
}

func NewCatalogService(brands *repository.BrandRepository, firmwares *repository.FirmwareRepository, images cloudinary.Client) *CatalogService {
	return &CatalogService{brands: brands, firmwares: firmwares, images: images}
}

func (s *CatalogService) ListBrands(ctx context.Context) ([]repository.BrandSummary, error) {
	return s.brands.List(ctx)
}

func (s *CatalogService) GetBrand(ctx context.Context, id uint) (*models.Brand, error) {
	b, err := s.brands.GetWithActiveFirmware(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBrandNotFound
	}
	return b, err
}

func (s *CatalogService) SearchFirmware(ctx context.Context, f repository.FirmwareFilter) ([]models.Firmware, int64, error) {
	return s.firmwares.Search(ctx, f)
}

// GetFirmware returns a firmware; inactive ones are hidden unless includeInactive is set.
func (s *CatalogService) GetFirmware(ctx context.Context, id uint, includeInactive bool) (*models.Firmware, error) {
	fw, err := s.firmwares.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFirmwareNotFound
	}
	if err != nil {
		return nil, err
	}
	if !fw.IsActive && !includeInactive {
		return nil, ErrFirmwareNotFound
	}
	return fw, nil
}

type BrandInput struct {
	Name        string
	Description string
	Icon        io.Reader // optional
}

func (s *CatalogService) CreateBrand(ctx context.Context, in BrandInput) (*models.Brand, error) {
	name := strings.TrimSpace(in.Name)
	if _, err := s.brands.GetByName(ctx, name); err == nil {
		return nil, ErrBrandExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	b := &models.Brand{Name: name, Description: in.Description}
	if in.Icon != nil {
		res, err := s.uploadIcon(ctx, in.Icon, brandIconFolder, slug(name))
		if err != nil {
			return nil, err
		}
		b.IconURL, b.IconPublicID = res.URL, res.PublicID
	}
	if err := s.brands.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *CatalogService) UpdateBrand(ctx context.Context, id uint, in BrandInput) (*models.Brand, error) {
	b, err := s.brands.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBrandNotFound
	}
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(in.Name); name != "" && name != b.Name {
		if other, err := s.brands.GetByName(ctx, name); err == nil && other.ID != b.ID {
			return nil, ErrBrandExists
		}
		b.Name = name
	}
	if in.Description != "" {
		b.Description = in.Description
	}
	if in.Icon != nil {
		old := b.IconPublicID
		res, err := s.uploadIcon(ctx, in.Icon, brandIconFolder, slug(b.Name))
		if err != nil {
			return nil, err
		}
		b.IconURL, b.IconPublicID = res.URL, res.PublicID
		if old != "" && old != res.PublicID {
			s.deleteIcon(ctx, old)
		}
	}
	if err := s.brands.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *CatalogService) DeleteBrand(ctx context.Context, id uint) error {
	b, err := s.brands.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrBrandNotFound
	}
	if err != nil {
		return err
	}
	if err := s.brands.Delete(ctx, id); err != nil {
		return err
	}
	s.deleteIcon(ctx, b.IconPublicID)
	return nil
}

type FirmwareInput struct {
	BrandID     uint
	Model       string
	Version     string
	Description string
	Price       *int64
	FileURL     string
	FileName    string
	IsActive    *bool
	Icon        io.Reader
}

func (s *CatalogService) CreateFirmware(ctx context.Context, adminID uint, in FirmwareInput) (*models.Firmware, error) {
	if _, err := s.brands.GetByID(ctx, in.BrandID); errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBrandNotFound
	} else if err != nil {
		return nil, err
	}
	fw := &models.Firmware{
		BrandID:     in.BrandID,
		Model:       strings.TrimSpace(in.Model),
		Version:     strings.TrimSpace(in.Version),
		Description: in.Description,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		IsActive:    true,
		AddedBy:     &adminID,
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return nil, ErrInvalidAmount
		}
		fw.Price = *in.Price
	}
	if in.IsActive != nil {
		fw.IsActive = *in.IsActive
	}
	if fw.FileName == "" {
		fw.FileName = fileNameFromURL(fw.FileURL)
	}
	if in.Icon != nil {
		res, err := s.uploadIcon(ctx, in.Icon, firmwareIconFolder, slug(fw.Model+"-"+fw.Version))
		if err != nil {
			return nil, err
		}
		fw.IconURL, fw.IconPublicID = res.URL, res.PublicID
	}
	if err := s.firmwares.Create(ctx, fw); err != nil {
		return nil, err
	}
	return fw, nil
}

func (s *CatalogService) UpdateFirmware(ctx context.Context, id uint, in FirmwareInput) (*models.Firmware, error) {
	fw, err := s.firmwares.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFirmwareNotFound
	}
	if err != nil {
		return nil, err
	}
	if in.BrandID != 0 && in.BrandID != fw.BrandID {
		if _, err := s.brands.GetByID(ctx, in.BrandID); err != nil {
			return nil, ErrBrandNotFound
		}
		fw.BrandID = in.BrandID
	}
	if v := strings.TrimSpace(in.Model); v != "" {
		fw.Model = v
	}
	if v := strings.TrimSpace(in.Version); v != "" {
		fw.Version = v
	}
	if in.Description != "" {
		fw.Description = in.Description
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return nil, ErrInvalidAmount
		}
		fw.Price = *in.Price
	}
	if in.FileURL != "" {
		fw.FileURL = in.FileURL
		fw.FileName = in.FileName
		if fw.FileName == "" {
			fw.FileName = fileNameFromURL(in.FileURL)
		}
	}
	if in.IsActive != nil {
		fw.IsActive = *in.IsActive
	}
	if in.Icon != nil {
		old := fw.IconPublicID
		res, err := s.uploadIcon(ctx, in.Icon, firmwareIconFolder, slug(fw.Model+"-"+fw.Version))
		if err != nil {
			return nil, err
		}
		fw.IconURL, fw.IconPublicID = res.URL, res.PublicID
		if old != "" && old != res.PublicID {
			s.deleteIcon(ctx, old)
		}
	}
	fw.Brand = nil
	if err := s.firmwares.Update(ctx, fw); err != nil {
		return nil, err
	}
	return fw, nil
}

// DeleteFirmware soft-deletes so existing buyers can still redeem their tokens.
func (s *CatalogService) DeleteFirmware(ctx context.Context, id uint) error {
	err := s.firmwares.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFirmwareNotFound
	}
	return err
}

func (s *CatalogService) uploadIcon(ctx context.Context, r io.Reader, folder, publicID string) (*cloudinary.UploadResult, error) {
	if s.images == nil {
		return nil, ErrUploadsDisabled
	}
	res, err := s.images.UploadImage(ctx, r, folder, publicID)
	if err != nil {
		return nil, fmt.Errorf("upload icon: %w", err)
	}
	return res, nil
}

func (s *CatalogService) deleteIcon(ctx context.Context, publicID string) {
	if s.images == nil || publicID == "" {
		return
	}
	if err := s.images.Delete(ctx, publicID); err != nil {
		logging.Warnf("[CATALOG] delete icon %s: %v", publicID, err)
	}
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func fileNameFromURL(u string) string {
	u = strings.SplitN(u, "?", 2)[0]
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
