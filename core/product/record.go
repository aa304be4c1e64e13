// Package product defines the canonical product record shared by the relational
// table and the XML catalog mirror.
package product

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Field names used both as relational column names and as XML child element names.
const (
	FieldID                 = "ProductID"
	FieldModelName          = "ProductModelName"
	FieldCategory           = "ProductCategory"
	FieldPrice              = "ProductPrice"
	FieldOnSale             = "ProductOnSale"
	FieldManufacturerName   = "ManufacturerName"
	FieldManufacturerRebate = "ManufacturerRebate"
	FieldInventory          = "Inventory"
	FieldImage              = "ProductImage"
	FieldDescription        = "ProductDescription"
)

// ErrInvalidRecord is returned when a record fails boundary validation.
var ErrInvalidRecord = errors.New("invalid product record")

// PriceScale is the number of fractional digits the relational column keeps.
const PriceScale = 2

// maxPrice is the first value that no longer fits NUMERIC(12,2).
var maxPrice = decimal.New(1, 10)

// Record is the canonical unit stored in both the relational table and the catalog.
//
// ID is assigned by the relational store on creation and never changes afterwards.
// It is zero before creation.
type Record struct {
	ID                 int64           `json:"productId"`
	ModelName          string          `json:"productModelName"`
	Category           string          `json:"productCategory"`
	Price              decimal.Decimal `json:"productPrice"`
	OnSale             bool            `json:"productOnSale"`
	ManufacturerName   string          `json:"manufacturerName"`
	ManufacturerRebate bool            `json:"manufacturerRebate"`
	Inventory          int64           `json:"inventory"`
	Image              string          `json:"productImage"`
	Description        string          `json:"productDescription"`
}

// Validate checks the structural requirements of a record.
func (r Record) Validate() error {
	var problems []string
	if strings.TrimSpace(r.ModelName) == "" {
		problems = append(problems, "model name is required")
	}
	if strings.TrimSpace(r.Category) == "" {
		problems = append(problems, "category is required")
	}
	if r.Price.IsNegative() {
		problems = append(problems, "price must be >= 0")
	}
	if !r.Price.Equal(r.Price.Round(PriceScale)) {
		problems = append(problems, fmt.Sprintf("price must have at most %d decimal places", PriceScale))
	}
	if r.Price.GreaterThanOrEqual(maxPrice) {
		problems = append(problems, "price must be < "+maxPrice.String())
	}
	if r.Inventory < 0 {
		problems = append(problems, "inventory must be >= 0")
	}
	if r.ID < 0 {
		problems = append(problems, "identifier must not be negative")
	}
	for _, f := range []struct{ name, value string }{
		{FieldModelName, r.ModelName},
		{FieldCategory, r.Category},
		{FieldManufacturerName, r.ManufacturerName},
		{FieldImage, r.Image},
		{FieldDescription, r.Description},
	} {
		if !isXMLText(f.value) {
			problems = append(problems, f.name+" contains characters not allowed in XML")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}
	return nil
}

// isXMLText reports whether s is valid UTF-8 made only of XML 1.0 characters.
// The catalog writer would otherwise replace the rest with U+FFFD.
func isXMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= utf8.MaxRune:
		default:
			return false
		}
	}
	return true
}

// Key returns the composite match key of the record.
func (r Record) Key() MatchKey {
	return MatchKey{
		ModelName: r.ModelName,
		Category:  r.Category,
		Price:     FormatPrice(r.Price),
	}
}

// MatchKey is the best-effort fallback key used when a catalog element carries no
// identifier. It is not guaranteed to be unique.
type MatchKey struct {
	ModelName string
	Category  string
	// Price is the catalog's literal text for the price, see FormatPrice.
	Price string
}

// IsZero reports whether the key carries no data at all.
func (k MatchKey) IsZero() bool {
	return k.ModelName == "" && k.Category == "" && k.Price == ""
}

func (k MatchKey) String() string {
	return fmt.Sprintf("(%s, %s, %s)", k.ModelName, k.Category, k.Price)
}

// FormatPrice renders a price the way the legacy catalog writer did: the shortest
// decimal representation, with at least one fractional digit ("50.0", "129.99").
func FormatPrice(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
