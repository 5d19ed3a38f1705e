package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CategoryStore is the part of the catalog the resolver reads and writes.
type CategoryStore interface {
	FindCategoryByName(ctx context.Context, name string) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
}

// CategoryResolver turns a category reference (id or name) into an id,
// creating named categories on first use. Resolved names are memoised for the
// lifetime of the resolver, which is one import job.
type CategoryResolver struct {
	store CategoryStore
	cache map[string]uint
	mu    sync.RWMutex
}

func NewCategoryResolver(store CategoryStore) *CategoryResolver {
	return &CategoryResolver{
		store: store,
		cache: make(map[string]uint),
	}
}

// Resolve returns 0 without error for an empty or non-positive reference so
// that validation reports the category as missing.
func (r *CategoryResolver) Resolve(ctx context.Context, ref string) (uint, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, nil
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id <= 0 {
			return 0, nil
		}
		return uint(id), nil
	}

	// same mapping as the store's LOWER(name) match, so the memo never joins
	// names the store keeps apart
	cacheKey := cases.Lower(language.Und).String(ref)

	r.mu.RLock()
	if cachedID, ok := r.cache[cacheKey]; ok {
		r.mu.RUnlock()
		return cachedID, nil
	}
	r.mu.RUnlock()

	category, err := r.store.FindCategoryByName(ctx, ref)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		category = &models.Category{Name: ref}
		if err := r.store.CreateCategory(ctx, category); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("failed to lookup category '%s': %w", ref, err)
	}

	r.mu.Lock()
	r.cache[cacheKey] = category.ID
	r.mu.Unlock()

	return category.ID, nil
}
