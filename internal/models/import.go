package models

import "time"

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// ImportStatus represents the status of an import job
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusDone       ImportStatus = "done"
	ImportStatusError      ImportStatus = "error"
	ImportStatusCancelled  ImportStatus = "cancelled"
)

// IsActive reports whether a job in this status still holds the import slot.
func (s ImportStatus) IsActive() bool {
	return s == ImportStatusPending || s == ImportStatusProcessing
}

// IsTerminal reports whether the job can no longer change.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusDone || s == ImportStatusError || s == ImportStatusCancelled
}

// Row error codes
const (
	RowErrorRequired = "REQUIRED"
	RowErrorCategory = "CATEGORY_ERROR"
	RowErrorStore    = "DB_ERROR"
	RowErrorPanic    = "ROW_ABORTED"
)

// ImportRowError represents an error for a specific row
type ImportRowError struct {
	Row     int    `json:"row"`
	Key     string `json:"key,omitempty"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

// ImportJob is the observable state of one import run.
type ImportJob struct {
	ID          string           `json:"id"`
	Status      ImportStatus     `json:"status"`
	Progress    int              `json:"progress"`
	CurrentRow  int              `json:"currentRow"`
	TotalRows   int              `json:"totalRows"`
	Created     int              `json:"created"`
	Updated     int              `json:"updated"`
	Errors      []ImportRowError `json:"errors"`
	ErrorCount  int              `json:"errorCount"`
	Message     string           `json:"message,omitempty"`
	Filename    string           `json:"filename,omitempty"`
	Format      ImportFormat     `json:"format,omitempty"`
	RequestedBy string           `json:"requestedBy,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *ImportJob) Clone() ImportJob {
	out := *j
	out.Errors = make([]ImportRowError, len(j.Errors))
	copy(out.Errors, j.Errors)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// ImportSubmitResponse is returned by the upload endpoint
type ImportSubmitResponse struct {
	JobID         string `json:"jobId"`
	AlreadyActive bool   `json:"alreadyActive"`
}

// ActiveImportResponse reports the job currently holding the import slot
type ActiveImportResponse struct {
	Active bool       `json:"active"`
	JobID  string     `json:"jobId,omitempty"`
	Status *ImportJob `json:"status,omitempty"`
}

// CancelImportRequest is the body of the cancel endpoint
type CancelImportRequest struct {
	JobID string `json:"jobId"`
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number, integer
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// ProductImportColumns returns the column definitions for product import
func ProductImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "codiceProdotto", Label: "CODICE PRODOTTO", Description: "Unique product code used to match existing products", Required: true, Type: "string", Example: "BMB-0001"},
		{Name: "codiceEAN", Label: "CODICE EAN", Description: "EAN barcode", Required: false, Type: "string", Example: "8001234567890"},
		{Name: "titolo", Label: "TITOLO", Description: "Product title", Required: true, Type: "string", Example: "Bamboo toothbrush"},
		{Name: "immagine", Label: "IMMAGINE", Description: "Image URL", Required: false, Type: "string", Example: "https://cdn.example.com/p/0001.jpg"},
		{Name: "url", Label: "URL", Description: "Product page link", Required: false, Type: "string", Example: ""},
		{Name: "stock", Label: "STOCK", Description: "Units in stock", Required: true, Type: "integer", Example: "25"},
		{Name: "descrizione", Label: "DESCRIZIONE", Description: "Long description", Required: false, Type: "string", Example: ""},
		{Name: "descrizioneBreve", Label: "DESCRIZIONE BREVE", Description: "Short description", Required: false, Type: "string", Example: ""},
		{Name: "stato", Label: "STATO", Description: "Status label", Required: false, Type: "string", Example: "attivo"},
		{Name: "prezzo", Label: "PREZZO", Description: "Unit price", Required: true, Type: "number", Example: "4.90"},
		{Name: "categoria", Label: "CATEGORIA", Description: "Category id, or category name (created if missing)", Required: true, Type: "string", Example: "Igiene"},
	}
}

// ProductImportTemplate returns the template definition for products
func ProductImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "products",
		Version: "1.0",
		Columns: ProductImportColumns(),
	}
}
