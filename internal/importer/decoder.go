// Package importer turns uploaded catalog files into validated product writes:
// decoding, header normalisation, category resolution and the upsert itself.
package importer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"catalog-import-service/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("only CSV and XLSX files are supported")
	ErrEmptyFile         = errors.New("the file has no header row")
)

// Row is one input record keyed by the header text of its column.
type Row struct {
	// Number is the 1-based position in the source; the header is row 1.
	Number int
	Values map[string]string
}

// RowSource is a finite, single-pass sequence of rows. Next returns io.EOF
// once the input is exhausted.
type RowSource interface {
	Total() int
	Next() (Row, error)
	Close() error
}

// RowDecoder opens a RowSource over a seekable upload.
type RowDecoder interface {
	Decode(src io.ReadSeeker, format models.ImportFormat) (RowSource, error)
}

// FileDecoder decodes CSV and XLSX uploads.
type FileDecoder struct{}

func NewFileDecoder() *FileDecoder {
	return &FileDecoder{}
}

func (d *FileDecoder) Decode(src io.ReadSeeker, format models.ImportFormat) (RowSource, error) {
	switch format {
	case models.ImportFormatCSV:
		return newCSVSource(src)
	case models.ImportFormatXLSX:
		return newXLSXSource(src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// FormatFromFilename picks the decoder from the upload's extension.
func FormatFromFilename(name string) (models.ImportFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return models.ImportFormatCSV, nil
	case ".xlsx":
		return models.ImportFormatXLSX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// buildRow maps positional values onto headers. Blank rows report false.
func buildRow(number int, headers, values []string) (Row, bool) {
	if isBlankRecord(values) {
		return Row{}, false
	}
	row := Row{Number: number, Values: make(map[string]string, len(headers))}
	for i, header := range headers {
		if header == "" {
			continue
		}
		value := ""
		if i < len(values) {
			value = strings.TrimSpace(values[i])
		}
		if existing, ok := row.Values[header]; ok && existing != "" {
			continue
		}
		row.Values[header] = value
	}
	return row, true
}

func cleanHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return headers
}
