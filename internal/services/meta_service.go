package services

import (
	"context"
	"errors"
	"strings"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"gorm.io/gorm"
)

// MetaService owns the two lookup tables: categories and companies
// (locations / sites).
type MetaService struct {
	db *gorm.DB
}

func NewMetaService(db *gorm.DB) *MetaService { return &MetaService{db: db} }

func (ms *MetaService) Categories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	err := ms.db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

func (ms *MetaService) Companies(ctx context.Context) ([]models.Company, error) {
	var out []models.Company
	err := ms.db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

func (ms *MetaService) CreateCategory(ctx context.Context, p Principal, name string) (*models.Category, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fieldRequired("name")
	}
	c := &models.Category{Name: name}
	if err := ms.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (ms *MetaService) CreateCompany(ctx context.Context, p Principal, name string) (*models.Company, error) {
	if !p.IsElevated() {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fieldRequired("name")
	}
	c := &models.Company{Name: name}
	if err := ms.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// FindOrCreateCategoryByName resolves a display name to a category id,
// creating the category when missing. Used by bulk import.
func (ms *MetaService) FindOrCreateCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fieldRequired("category")
	}
	var c models.Category
	err := ms.db.WithContext(ctx).Where("lower(name) = ?", strings.ToLower(name)).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = models.Category{Name: name}
	if err := ms.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (ms *MetaService) FindOrCreateCompanyByName(ctx context.Context, name string) (*models.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fieldRequired("location")
	}
	var c models.Company
	err := ms.db.WithContext(ctx).Where("lower(name) = ?", strings.ToLower(name)).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = models.Company{Name: name}
	if err := ms.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCategory refuses when any obligation still references the category.
func (ms *MetaService) DeleteCategory(ctx context.Context, p Principal, id uint) error {
	if !p.IsSuperAdmin() {
		return ErrForbidden
	}
	var inUse int64
	if err := ms.db.WithContext(ctx).Model(&models.Task{}).Where("category_id = ?", id).Count(&inUse).Error; err != nil {
		return err
	}
	if inUse > 0 {
		return errors.New("category is in use")
	}
	res := ms.db.WithContext(ctx).Unscoped().Delete(&models.Category{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MetaService) DeleteCompany(ctx context.Context, p Principal, id uint) error {
	if !p.IsSuperAdmin() {
		return ErrForbidden
	}
	var inUse int64
	if err := ms.db.WithContext(ctx).Model(&models.Task{}).Where("company_id = ?", id).Count(&inUse).Error; err != nil {
		return err
	}
	if inUse > 0 {
		return errors.New("location is in use")
	}
	res := ms.db.WithContext(ctx).Unscoped().Delete(&models.Company{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
