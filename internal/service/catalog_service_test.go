package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"fwstore/internal/models"
	"fwstore/internal/repository"
	"fwstore/pkg/cloudinary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeImages stands in for Cloudinary and hands out a fresh public id per upload.
type fakeImages struct {
	uploads int
	deleted []string
}

func (f *fakeImages) UploadImage(_ context.Context, r io.Reader, folder, publicID string) (*cloudinary.UploadResult, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	f.uploads++
	id := fmt.Sprintf("%s/%s-%d", folder, publicID, f.uploads)
	return &cloudinary.UploadResult{URL: "https://img.example.com/" + id + ".png", PublicID: id}, nil
}

func (f *fakeImages) Delete(_ context.Context, publicID string) error {
	f.deleted = append(f.deleted, publicID)
	return nil
}

func newCatalog(f *fixture, images cloudinary.Client) *CatalogService {
	return NewCatalogService(repository.NewBrandRepository(f.db), repository.NewFirmwareRepository(f.db), images)
}

func TestCatalog_brandNamesAreUnique(t *testing.T) {
	f := newFixture(t)
	catalog := newCatalog(f, nil)
	ctx := context.Background()

	samsung, err := catalog.CreateBrand(ctx, BrandInput{Name: "Samsung"})
	require.NoError(t, err)

	_, err = catalog.CreateBrand(ctx, BrandInput{Name: "  Samsung "})
	assert.ErrorIs(t, err, ErrBrandExists)

	_, err = catalog.UpdateBrand(ctx, samsung.ID, BrandInput{Name: "Tecno"})
	assert.ErrorIs(t, err, ErrBrandExists, "renaming onto another brand")

	renamed, err := catalog.UpdateBrand(ctx, samsung.ID, BrandInput{Name: "Samsung Galaxy", Description: "phones"})
	require.NoError(t, err)
	assert.Equal(t, "Samsung Galaxy", renamed.Name)
	assert.Equal(t, "phones", renamed.Description)

	_, err = catalog.UpdateBrand(ctx, 9999, BrandInput{Name: "Nokia"})
	assert.ErrorIs(t, err, ErrBrandNotFound)
}

func TestCatalog_deleteBrandDeactivatesFirmware(t *testing.T) {
	f := newFixture(t)
	catalog := newCatalog(f, nil)
	ctx := context.Background()

	require.NoError(t, catalog.DeleteBrand(ctx, f.firmware.BrandID))

	var fw models.Firmware
	require.NoError(t, f.db.First(&fw, f.firmware.ID).Error)
	assert.False(t, fw.IsActive)

	_, err := catalog.GetBrand(ctx, f.firmware.BrandID)
	assert.ErrorIs(t, err, ErrBrandNotFound)
	_, err = catalog.GetFirmware(ctx, f.firmware.ID, false)
	assert.ErrorIs(t, err, ErrFirmwareNotFound)
	_, err = f.purchase.StartPurchase(ctx, f.buyer.ID, f.firmware.ID, "0712345678")
	assert.ErrorIs(t, err, ErrFirmwareNotFound)

	assert.ErrorIs(t, catalog.DeleteBrand(ctx, f.firmware.BrandID), ErrBrandNotFound)
}

func TestCatalog_deleteFirmwareIsSoft(t *testing.T) {
	f := newFixture(t)
	catalog := newCatalog(f, nil)
	ctx := context.Background()

	require.NoError(t, catalog.DeleteFirmware(ctx, f.firmware.ID))

	_, err := catalog.GetFirmware(ctx, f.firmware.ID, true)
	assert.ErrorIs(t, err, ErrFirmwareNotFound)

	rel, err := repository.NewFirmwareRepository(f.db).GetForRelease(ctx, f.firmware.ID)
	require.NoError(t, err)
	assert.Equal(t, f.firmware.FileURL, rel.FileURL)

	assert.ErrorIs(t, catalog.DeleteFirmware(ctx, f.firmware.ID), ErrFirmwareNotFound)
}

func TestCatalog_createFirmware(t *testing.T) {
	f := newFixture(t)
	catalog := newCatalog(f, nil)
	ctx := context.Background()
	negative := int64(-5)
	price := int64(750)
	inactive := false

	_, err := catalog.CreateFirmware(ctx, f.admin.ID, FirmwareInput{BrandID: f.firmware.BrandID, Model: "Camon 20", Version: "V1", Price: &negative})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = catalog.CreateFirmware(ctx, f.admin.ID, FirmwareInput{BrandID: 9999, Model: "Camon 20", Version: "V1"})
	assert.ErrorIs(t, err, ErrBrandNotFound)

	fw, err := catalog.CreateFirmware(ctx, f.admin.ID, FirmwareInput{
		BrandID:  f.firmware.BrandID,
		Model:    " Camon 20 ",
		Version:  "V1",
		Price:    &price,
		FileURL:  "https://files.example.com/tecno/camon20.zip?sig=abc",
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "Camon 20", fw.Model)
	assert.Equal(t, "camon20.zip", fw.FileName)
	require.NotNil(t, fw.AddedBy)
	assert.Equal(t, f.admin.ID, *fw.AddedBy)

	var stored models.Firmware
	require.NoError(t, f.db.First(&stored, fw.ID).Error)
	assert.False(t, stored.IsActive, "an explicit inactive flag is persisted")
	assert.Equal(t, int64(750), stored.Price)

	_, err = catalog.GetFirmware(ctx, fw.ID, false)
	assert.ErrorIs(t, err, ErrFirmwareNotFound)
	got, err := catalog.GetFirmware(ctx, fw.ID, true)
	require.NoError(t, err)
	assert.Equal(t, fw.ID, got.ID)
}

func TestCatalog_icons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := newCatalog(f, nil).CreateBrand(ctx, BrandInput{Name: "Itel", Icon: strings.NewReader("png")})
	assert.ErrorIs(t, err, ErrUploadsDisabled)

	images := &fakeImages{}
	catalog := newCatalog(f, images)
	b, err := catalog.CreateBrand(ctx, BrandInput{Name: "Itel", Icon: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, "fwstore/brands/itel-1", b.IconPublicID)

	b, err = catalog.UpdateBrand(ctx, b.ID, BrandInput{Icon: strings.NewReader("png2")})
	require.NoError(t, err)
	assert.Equal(t, "fwstore/brands/itel-2", b.IconPublicID)
	assert.Equal(t, []string{"fwstore/brands/itel-1"}, images.deleted, "the replaced icon is removed")

	require.NoError(t, catalog.DeleteBrand(ctx, b.ID))
	assert.Equal(t, []string{"fwstore/brands/itel-1", "fwstore/brands/itel-2"}, images.deleted)
}
