package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// CatalogRepository is the product/category store used by the importer
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindCategoryByName retrieves a category by name (case-insensitive)
func (r *CatalogRepository) FindCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

// CreateCategory inserts a category; the ID is filled in on success
func (r *CatalogRepository) CreateCategory(ctx context.Context, category *models.Category) error {
	now := time.Now()
	category.CreatedAt = now
	category.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(category).Error; err != nil {
		return fmt.Errorf("failed to create category '%s': %w", category.Name, err)
	}
	return nil
}

// FindProductByCode looks a product up by its business key
func (r *CatalogRepository) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("product_code = ?", code).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// CreateProduct inserts a product linked to exactly one category
func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product, categoryID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		product.CreatedAt = now
		product.UpdatedAt = now
		if err := tx.Omit("Categories").Create(product).Error; err != nil {
			return fmt.Errorf("failed to create product '%s': %w", product.ProductCode, err)
		}
		return linkCategory(tx, product.ID, categoryID)
	})
}

// UpdateProduct overwrites the mutable fields of an existing product and
// replaces its category links with categoryID
func (r *CatalogRepository) UpdateProduct(ctx context.Context, product *models.Product, categoryID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product.UpdatedAt = time.Now()
		result := tx.Model(&models.Product{}).
			Where("id = ?", product.ID).
			Updates(map[string]interface{}{
				"ean":               product.EAN,
				"title":             product.Title,
				"image":             product.Image,
				"url":               product.URL,
				"stock":             product.Stock,
				"description":       product.Description,
				"short_description": product.ShortDescription,
				"status":            product.Status,
				"price":             product.Price,
				"updated_at":        product.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update product '%s': %w", product.ProductCode, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Exec("DELETE FROM product_categories WHERE product_id = ?", product.ID).Error; err != nil {
			return fmt.Errorf("failed to clear categories of '%s': %w", product.ProductCode, err)
		}
		return linkCategory(tx, product.ID, categoryID)
	})
}

func linkCategory(tx *gorm.DB, productID, categoryID uint) error {
	err := tx.Exec("INSERT INTO product_categories (product_id, category_id) VALUES (?, ?)", productID, categoryID).Error
	if err != nil {
		return fmt.Errorf("failed to link category %d: %w", categoryID, err)
	}
	return nil
}
