package importer

import (
	"context"
	"errors"
	"fmt"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
)

// ProductStore is the part of the catalog the upserter writes.
type ProductStore interface {
	FindProductByCode(ctx context.Context, code string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product, categoryID uint) error
	UpdateProduct(ctx context.Context, product *models.Product, categoryID uint) error
}

// Upserter creates or updates products keyed by product code.
type Upserter struct {
	store ProductStore
}

func NewUpserter(store ProductStore) *Upserter {
	return &Upserter{store: store}
}

// Upsert writes a validated row and reports whether a new product was created.
func (u *Upserter) Upsert(ctx context.Context, in ProductInput) (bool, error) {
	existing, err := u.store.FindProductByCode(ctx, in.ProductCode)
	switch {
	case err == nil:
		in.applyTo(existing)
		if err := u.store.UpdateProduct(ctx, existing, in.CategoryID); err != nil {
			return false, err
		}
		return false, nil
	case errors.Is(err, repository.ErrNotFound):
		product := &models.Product{ProductCode: in.ProductCode}
		in.applyTo(product)
		if err := u.store.CreateProduct(ctx, product, in.CategoryID); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("failed to lookup product '%s': %w", in.ProductCode, err)
	}
}

// applyTo overwrites every mutable field, clearing optional ones left empty.
func (in ProductInput) applyTo(p *models.Product) {
	p.EAN = optionalString(in.EAN)
	p.Title = in.Title
	p.Image = optionalString(in.Image)
	p.URL = optionalString(in.URL)
	p.Stock = in.Stock
	p.Description = optionalString(in.Description)
	p.ShortDescription = optionalString(in.ShortDescription)
	p.Status = optionalString(in.Status)
	p.Price = in.Price
}

// optionalString returns nil for empty strings, pointer otherwise
func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
