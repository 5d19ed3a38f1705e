package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProductInput is a row that passed validation.
type ProductInput struct {
	ProductCode      string
	EAN              string
	Title            string
	Image            string
	URL              string
	Stock            int
	Description      string
	ShortDescription string
	Status           string
	Price            float64
	CategoryID       uint
}

// ValidationError lists the required fields that were missing or unparseable.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid required fields: %s", strings.Join(e.Fields, ", "))
}

// Validate checks the required fields of a normalized row. categoryID is the
// resolver's result; zero means no usable category.
func Validate(row NormalizedRow, categoryID uint) (ProductInput, error) {
	var missing []string

	if row.ProductCode == "" {
		missing = append(missing, "productCode")
	}
	if row.Title == "" {
		missing = append(missing, "title")
	}
	price, priceOK := parsePrice(row.Price)
	if !priceOK {
		missing = append(missing, "price")
	}
	stock, stockOK := parseStock(row.Stock)
	if !stockOK {
		missing = append(missing, "stock")
	}
	if categoryID == 0 {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return ProductInput{}, &ValidationError{Fields: missing}
	}

	return ProductInput{
		ProductCode:      row.ProductCode,
		EAN:              row.EAN,
		Title:            row.Title,
		Image:            row.Image,
		URL:              row.URL,
		Stock:            stock,
		Description:      row.Description,
		ShortDescription: row.ShortDescription,
		Status:           row.Status,
		Price:            price,
		CategoryID:       categoryID,
	}, nil
}

// parsePrice accepts "4.90", "4,90", "1.234,56" and "1,234.56". Whichever of
// "." and "," comes last is the decimal separator; the other one may only
// group thousands. Negative prices are rejected.
func parsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, "€"))
	if s == "" {
		return 0, false
	}
	s, ok := canonicalDecimal(s)
	if !ok {
		return 0, false
	}
	price, err := strconv.ParseFloat(s, 64)
	if err != nil || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

func canonicalDecimal(s string) (string, bool) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	if lastDot < 0 && lastComma < 0 {
		return s, true
	}

	decimal, group := ".", ","
	if lastComma > lastDot {
		decimal, group = ",", "."
	}

	// "1.234.567" has no decimal part at all
	if strings.Count(s, decimal) > 1 {
		if strings.Contains(s, group) || !thousandsGrouped(s, decimal) {
			return "", false
		}
		return strings.ReplaceAll(s, decimal, ""), true
	}

	idx := strings.LastIndex(s, decimal)
	whole, frac := s[:idx], s[idx+1:]
	if whole == "" || frac == "" || !allDigits(frac) {
		return "", false
	}
	if strings.Contains(whole, group) {
		if !thousandsGrouped(whole, group) {
			return "", false
		}
		whole = strings.ReplaceAll(whole, group, "")
	}
	return whole + "." + frac, true
}

func thousandsGrouped(s, sep string) bool {
	groups := strings.Split(s, sep)
	lead := strings.TrimPrefix(groups[0], "-")
	if len(lead) == 0 || len(lead) > 3 || !allDigits(lead) {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseStock accepts integers, including spreadsheet values such as "12.0".
func parseStock(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
