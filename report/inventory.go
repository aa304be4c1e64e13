// Package report builds read-only views over the product stores for dashboards.
// Nothing in here writes to either store.
package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
)

// Finder is the part of the relational table the reports read from.
type Finder interface {
	Find(ctx context.Context, filter producttable.Filter) ([]product.Record, error)
}

// InventoryItem is the inventory view of one product.
type InventoryItem struct {
	ModelName string          `json:"productModelName"`
	Price     decimal.Decimal `json:"productPrice"`
	Inventory int64           `json:"inventory"`
}

// Inventory groups the stock levels shown on the inventory dashboard.
type Inventory struct {
	AllProducts        []InventoryItem `json:"allProducts"`
	ProductsOnSale     []InventoryItem `json:"productsOnSale"`
	ProductsWithRebate []InventoryItem `json:"productsWithRebate"`
}

// BuildInventory reads the inventory view from the relational table.
func BuildInventory(ctx context.Context, table Finder) (Inventory, error) {
	yes := true

	all, err := table.Find(ctx, producttable.Filter{})
	if err != nil {
		return Inventory{}, fmt.Errorf("failed to list products: %w", err)
	}
	onSale, err := table.Find(ctx, producttable.Filter{OnSale: &yes})
	if err != nil {
		return Inventory{}, fmt.Errorf("failed to list products on sale: %w", err)
	}
	rebate, err := table.Find(ctx, producttable.Filter{Rebate: &yes})
	if err != nil {
		return Inventory{}, fmt.Errorf("failed to list products with rebate: %w", err)
	}

	return Inventory{
		AllProducts:        inventoryItems(all),
		ProductsOnSale:     inventoryItems(onSale),
		ProductsWithRebate: inventoryItems(rebate),
	}, nil
}

func inventoryItems(records []product.Record) []InventoryItem {
	items := make([]InventoryItem, len(records))
	for i, rec := range records {
		items[i] = InventoryItem{
			ModelName: rec.ModelName,
			Price:     rec.Price,
			Inventory: rec.Inventory,
		}
	}
	return items
}
