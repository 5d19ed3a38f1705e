package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"catalog-import-service/internal/cache"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
)

// memoryCatalog is an in-memory Catalog. beforeUpsert, when set, runs at the
// start of every product write lookup and may block or panic.
type memoryCatalog struct {
	mu             sync.Mutex
	categories     map[string]*models.Category
	products       map[string]*models.Product
	links          map[uint]uint
	nextCategoryID uint
	nextProductID  uint
	failCodes      map[string]error
	beforeUpsert   func(code string)
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		categories: make(map[string]*models.Category),
		products:   make(map[string]*models.Product),
		links:      make(map[uint]uint),
		failCodes:  make(map[string]error),
	}
}

func (m *memoryCatalog) FindCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.categories[strings.ToLower(name)]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryCatalog) CreateCategory(ctx context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCategoryID++
	category.ID = m.nextCategoryID
	copied := *category
	m.categories[strings.ToLower(category.Name)] = &copied
	return nil
}

func (m *memoryCatalog) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	if m.beforeUpsert != nil {
		m.beforeUpsert(code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[code]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryCatalog) CreateProduct(ctx context.Context, product *models.Product, categoryID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCodes[product.ProductCode]; err != nil {
		return err
	}
	if _, exists := m.products[product.ProductCode]; exists {
		return fmt.Errorf("duplicate product code %s", product.ProductCode)
	}
	m.nextProductID++
	product.ID = m.nextProductID
	copied := *product
	m.products[product.ProductCode] = &copied
	m.links[product.ID] = categoryID
	return nil
}

func (m *memoryCatalog) UpdateProduct(ctx context.Context, product *models.Product, categoryID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCodes[product.ProductCode]; err != nil {
		return err
	}
	if _, ok := m.products[product.ProductCode]; !ok {
		return repository.ErrNotFound
	}
	copied := *product
	m.products[product.ProductCode] = &copied
	m.links[product.ID] = categoryID
	return nil
}

func (m *memoryCatalog) product(code string) (models.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[code]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

func (m *memoryCatalog) categoryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.categories)
}

// recordingSnapshots keeps every saved snapshot in order.
type recordingSnapshots struct {
	mu     sync.Mutex
	saved  []models.ImportJob
	latest map[string]models.ImportJob
}

func newRecordingSnapshots() *recordingSnapshots {
	return &recordingSnapshots{latest: make(map[string]models.ImportJob)}
}

func (r *recordingSnapshots) Save(ctx context.Context, job models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, job)
	r.latest[job.ID] = job
	return nil
}

func (r *recordingSnapshots) Load(ctx context.Context, jobID string) (*models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.latest[jobID]
	if !ok {
		return nil, cache.ErrSnapshotNotFound
	}
	return &job, nil
}

func (r *recordingSnapshots) history() []models.ImportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ImportJob(nil), r.saved...)
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) PublishImportEvent(ctx context.Context, eventType string, job models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingEvents) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error { return nil }

func csvUpload(content string) Upload {
	return Upload{
		Filename: "products.csv",
		Format:   models.ImportFormatCSV,
		Open: func() (io.ReadSeekCloser, error) {
			return nopReadSeekCloser{bytes.NewReader([]byte(content))}, nil
		},
	}
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("codiceProdotto;titolo;prezzo;stock;categoria\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "P-%d;Prodotto %d;%d,50;%d;Cancelleria\n", i, i, i, i*2)
	}
	return b.String()
}

var errStoreDown = errors.New("connection reset by peer")
