package repository

import (
	"context"

	"fwstore/internal/models"

	"gorm.io/gorm"
)

type BrandRepository struct {
	db *gorm.DB
}

func NewBrandRepository(db *gorm.DB) *BrandRepository {
	return &BrandRepository{db: db}
}

type BrandSummary struct {
	models.Brand
	FirmwareCount int64 `json:"firmware_count"`
}

// List returns all brands by name with the number of active firmwares each carries.
func (r *BrandRepository) List(ctx context.Context) ([]BrandSummary, error) {
	var brands []models.Brand
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&brands).Error; err != nil {
		return nil, err
	}
	var counts []struct {
		BrandID uint
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&models.Firmware{}).
		Select("brand_id, COUNT(*) AS total").
		Where("is_active = ?", true).
		Group("brand_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	byBrand := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byBrand[c.BrandID] = c.Total
	}
	out := make([]BrandSummary, 0, len(brands))
	for _, b := range brands {
		out = append(out, BrandSummary{Brand: b, FirmwareCount: byBrand[b.ID]})
	}
	return out, nil
}

func (r *BrandRepository) GetByID(ctx context.Context, id uint) (*models.Brand, error) {
	var b models.Brand
	err := r.db.WithContext(ctx).First(&b, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// GetWithActiveFirmware loads a brand and its active firmwares, newest first.
func (r *BrandRepository) GetWithActiveFirmware(ctx context.Context, id uint) (*models.Brand, error) {
	var b models.Brand
	err := r.db.WithContext(ctx).
		Preload("Firmwares", func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true).Order("created_at DESC")
		}).
		First(&b, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *BrandRepository) GetByName(ctx context.Context, name string) (*models.Brand, error) {
	var b models.Brand
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *BrandRepository) Create(ctx context.Context, b *models.Brand) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BrandRepository) Update(ctx context.Context, b *models.Brand) error {
	return r.db.WithContext(ctx).Save(b).Error
}

// Delete removes the brand and deactivates its firmwares.
func (r *BrandRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Firmware{}).Where("brand_id = ?", id).Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Brand{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type FirmwareRepository struct {
	db *gorm.DB
}

func NewFirmwareRepository(db *gorm.DB) *FirmwareRepository {
	return &FirmwareRepository{db: db}
}

func (r *FirmwareRepository) WithTx(tx *gorm.DB) *FirmwareRepository {
	return &FirmwareRepository{db: tx}
}

type FirmwareFilter struct {
	BrandID    uint
	Query      string // matched against model and version
	ActiveOnly bool
	Page       int
	Limit      int
}

func (r *FirmwareRepository) Search(ctx context.Context, f FirmwareFilter) ([]models.Firmware, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Firmware{})
	if f.BrandID != 0 {
		q = q.Where("brand_id = ?", f.BrandID)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("model LIKE ? OR version LIKE ?", like, like)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Firmware
	err := q.Preload("Brand").Order("created_at DESC").Limit(f.Limit).Offset((f.Page - 1) * f.Limit).Find(&list).Error
	return list, total, err
}

func (r *FirmwareRepository) GetByID(ctx context.Context, id uint) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.db.WithContext(ctx).Preload("Brand").First(&fw, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &fw, nil
}

// GetForRelease also finds soft-deleted firmware so buyers holding a paid token can still download it.
func (r *FirmwareRepository) GetForRelease(ctx context.Context, id uint) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.db.WithContext(ctx).Unscoped().First(&fw, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &fw, nil
}

func (r *FirmwareRepository) Create(ctx context.Context, fw *models.Firmware) error {
	return r.db.WithContext(ctx).Create(fw).Error
}

func (r *FirmwareRepository) Update(ctx context.Context, fw *models.Firmware) error {
	return r.db.WithContext(ctx).Omit("Brand").Save(fw).Error
}

func (r *FirmwareRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Firmware{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FirmwareRepository) IncrementDownloads(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Unscoped().Model(&models.Firmware{}).Where("id = ?", id).
		UpdateColumn("downloads", gorm.Expr("downloads + ?", 1)).Error
}
