package importer

import (
	"strings"

	"golang.org/x/text/cases"
)

// Field is one canonical import column.
type Field int

const (
	FieldProductCode Field = iota
	FieldEAN
	FieldTitle
	FieldImage
	FieldURL
	FieldStock
	FieldDescription
	FieldShortDescription
	FieldStatus
	FieldPrice
	FieldCategory
)

// NormalizedRow carries the raw text of the canonical fields of one row.
type NormalizedRow struct {
	Number           int
	ProductCode      string
	EAN              string
	Title            string
	Image            string
	URL              string
	Stock            string
	Description      string
	ShortDescription string
	Status           string
	Price            string
	Category         string
}

type alias struct {
	field Field
	rank  int
}

// columnAliases lists accepted headers per field, most specific first. Keys
// are in normalizeHeader form.
var columnAliases = buildAliasTable(map[Field][]string{
	FieldProductCode:      {"codice prodotto", "codiceprodotto", "product code", "productcode", "sku"},
	FieldEAN:              {"codice ean", "codiceean", "ean", "ean code"},
	FieldTitle:            {"titolo", "title", "nome", "name"},
	FieldImage:            {"immagine", "image", "image url"},
	FieldURL:              {"url", "link"},
	FieldStock:            {"stock", "quantita", "quantità", "quantity"},
	FieldDescription:      {"descrizione", "description"},
	FieldShortDescription: {"descrizione breve", "descrizionebreve", "short description", "shortdescription"},
	FieldStatus:           {"stato", "status"},
	FieldPrice:            {"prezzo", "price"},
	FieldCategory:         {"categoria", "categoriaid", "categoria id", "category", "categoryid", "category id"},
})

func buildAliasTable(fields map[Field][]string) map[string]alias {
	table := make(map[string]alias)
	for field, names := range fields {
		for rank, name := range names {
			table[normalizeHeader(name)] = alias{field: field, rank: rank}
		}
	}
	return table
}

// normalizeHeader folds case, drops the template's required marker and
// treats '_' and '-' like spaces.
func normalizeHeader(header string) string {
	h := strings.TrimSpace(header)
	h = strings.TrimSpace(strings.TrimSuffix(h, "*"))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	h = strings.Join(strings.Fields(h), " ")
	return cases.Fold().String(h)
}

// Normalize maps a decoded row onto the canonical fields. Unknown columns are
// ignored; when several aliases of one field carry a value the most specific
// alias wins.
func Normalize(row Row) NormalizedRow {
	out := NormalizedRow{Number: row.Number}
	best := make(map[Field]int, len(row.Values))
	for header, value := range row.Values {
		a, ok := columnAliases[normalizeHeader(header)]
		if !ok || value == "" {
			continue
		}
		if rank, seen := best[a.field]; seen && rank <= a.rank {
			continue
		}
		best[a.field] = a.rank
		out.set(a.field, value)
	}
	return out
}

func (r *NormalizedRow) set(f Field, value string) {
	switch f {
	case FieldProductCode:
		r.ProductCode = value
	case FieldEAN:
		r.EAN = value
	case FieldTitle:
		r.Title = value
	case FieldImage:
		r.Image = value
	case FieldURL:
		r.URL = value
	case FieldStock:
		r.Stock = value
	case FieldDescription:
		r.Description = value
	case FieldShortDescription:
		r.ShortDescription = value
	case FieldStatus:
		r.Status = value
	case FieldPrice:
		r.Price = value
	case FieldCategory:
		r.Category = value
	}
}
