package report

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stokaro/catalogsync/catalog/document"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
)

// Mismatch lists the fields in which a catalog element differs from its row.
type Mismatch struct {
	ProductID int64    `json:"productId"`
	Fields    []string `json:"fields"`
}

// LegacyEntry is a catalog element without a usable identifier.
type LegacyEntry struct {
	ModelName string `json:"productModelName"`
	Category  string `json:"productCategory"`
	Price     string `json:"productPrice"`
	// MatchedID is the row the element resolves to by key, zero if none.
	MatchedID int64 `json:"matchedProductId,omitempty"`
}

// Drift describes how far the catalog mirror has drifted from the relational table.
type Drift struct {
	// Unmirrored rows have no catalog element, by identifier or by key.
	Unmirrored []int64 `json:"unmirrored"`
	// Orphaned elements carry an identifier that has no row.
	Orphaned []int64 `json:"orphaned"`
	// Legacy elements carry no usable identifier.
	Legacy []LegacyEntry `json:"legacy"`
	// Mismatched elements resolve to a row but disagree with it.
	Mismatched []Mismatch `json:"mismatched"`
	// Malformed elements resolve to a row but cannot be decoded.
	Malformed []int64 `json:"malformed"`
}

// InSync reports whether no drift was found.
func (d Drift) InSync() bool {
	return len(d.Unmirrored) == 0 && len(d.Orphaned) == 0 && len(d.Legacy) == 0 &&
		len(d.Mismatched) == 0 && len(d.Malformed) == 0
}

// BuildDrift compares every row of the table with the catalog. Elements are
// resolved the same way the synchronizer resolves them.
func BuildDrift(ctx context.Context, table Finder, catalog *document.Store) (Drift, error) {
	rows, err := table.Find(ctx, producttable.Filter{})
	if err != nil {
		return Drift{}, fmt.Errorf("failed to list products: %w", err)
	}

	catalog.Lock()
	doc, err := catalog.Load()
	catalog.Unlock()
	if err != nil {
		return Drift{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	drift := Drift{
		Unmirrored: []int64{},
		Orphaned:   []int64{},
		Legacy:     []LegacyEntry{},
		Mismatched: []Mismatch{},
		Malformed:  []int64{},
	}

	known := make(map[int64]bool, len(rows))
	matchedLegacy := make(map[*document.Element]int64)

	for _, row := range rows {
		known[row.ID] = true

		el, ok := doc.FindByIDOrKey(row.ID, row.Key())
		if !ok {
			drift.Unmirrored = append(drift.Unmirrored, row.ID)
			continue
		}
		if _, hasID := el.ID(); !hasID {
			matchedLegacy[el] = row.ID
		}

		mirrored, err := el.Record()
		if err != nil {
			drift.Malformed = append(drift.Malformed, row.ID)
			continue
		}
		if fields := diffFields(row, mirrored); len(fields) > 0 {
			drift.Mismatched = append(drift.Mismatched, Mismatch{ProductID: row.ID, Fields: fields})
		}
	}

	for _, el := range doc.Elements() {
		if id, ok := el.ID(); ok {
			if !known[id] {
				drift.Orphaned = append(drift.Orphaned, id)
			}
			continue
		}

		entry := legacyEntry(el)
		for m, rowID := range matchedLegacy {
			if m.Same(el) {
				entry.MatchedID = rowID
				break
			}
		}
		drift.Legacy = append(drift.Legacy, entry)
	}

	return drift, nil
}

func legacyEntry(el *document.Element) LegacyEntry {
	model, _ := el.Field(product.FieldModelName)
	category, _ := el.Field(product.FieldCategory)
	price, _ := el.Field(product.FieldPrice)
	return LegacyEntry{ModelName: model, Category: category, Price: price}
}

func diffFields(row, mirrored product.Record) []string {
	var fields []string
	check := func(name, a, b string) {
		if a != b {
			fields = append(fields, name)
		}
	}
	check(product.FieldModelName, row.ModelName, mirrored.ModelName)
	check(product.FieldCategory, row.Category, mirrored.Category)
	if !row.Price.Equal(mirrored.Price) {
		fields = append(fields, product.FieldPrice)
	}
	check(product.FieldOnSale, strconv.FormatBool(row.OnSale), strconv.FormatBool(mirrored.OnSale))
	check(product.FieldManufacturerName, row.ManufacturerName, mirrored.ManufacturerName)
	check(product.FieldManufacturerRebate, strconv.FormatBool(row.ManufacturerRebate), strconv.FormatBool(mirrored.ManufacturerRebate))
	check(product.FieldInventory, strconv.FormatInt(row.Inventory, 10), strconv.FormatInt(mirrored.Inventory, 10))
	check(product.FieldImage, row.Image, mirrored.Image)
	check(product.FieldDescription, row.Description, mirrored.Description)
	return fields
}
