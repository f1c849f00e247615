package models

import (
	"time"

	"gorm.io/gorm"
)

type Brand struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	IconURL      string         `gorm:"size:512" json:"icon_url"`
	IconPublicID string         `gorm:"size:255" json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Firmwares []Firmware `gorm:"foreignKey:BrandID" json:"firmwares,omitempty"`
}

func (Brand) TableName() string {
	return "brands"
}

// Firmware is a sellable image. Price is in whole KES; zero means free.
type Firmware struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	BrandID      uint           `gorm:"not null;index" json:"brand_id"`
	Model        string         `gorm:"size:100;not null;index" json:"model"`
	Version      string         `gorm:"size:50;not null" json:"version"`
	Description  string         `gorm:"type:text" json:"description"`
	Price        int64          `gorm:"not null;default:0" json:"price"`
	FileURL      string         `gorm:"size:1024;not null" json:"-"` // release locator, never exposed in listings
	FileName     string         `gorm:"size:255" json:"file_name"`
	IconURL      string         `gorm:"size:512" json:"icon_url"`
	IconPublicID string         `gorm:"size:255" json:"-"`
	Downloads    int64          `gorm:"not null;default:0" json:"downloads"`
	IsActive     bool           `gorm:"not null;index" json:"is_active"`
	AddedBy      *uint          `json:"added_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Brand *Brand `gorm:"foreignKey:BrandID" json:"brand,omitempty"`
}

func (Firmware) TableName() string {
	return "firmwares"
}

func (f *Firmware) IsFree() bool { return f.Price <= 0 }
