package product

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/go-extras/cobraflags"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/stokaro/catalogsync/catalog/catalogsync"
	"github.com/stokaro/catalogsync/cmd/app"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
)

const (
	idFlag           = "id"
	nameFlag         = "name"
	categoryFlag     = "category"
	priceFlag        = "price"
	onSaleFlag       = "on-sale"
	manufacturerFlag = "manufacturer"
	rebateFlag       = "rebate"
	inventoryFlag    = "inventory"
	imageFlag        = "image"
	descriptionFlag  = "description"
)

func idFlags() map[string]cobraflags.Flag {
	return map[string]cobraflags.Flag{
		idFlag: &cobraflags.StringFlag{
			Name:  idFlag,
			Value: "",
			Usage: "Product identifier (required)",
		},
	}
}

func recordFlags() map[string]cobraflags.Flag {
	return map[string]cobraflags.Flag{
		nameFlag:         &cobraflags.StringFlag{Name: nameFlag, Value: "", Usage: "Model name (required)"},
		categoryFlag:     &cobraflags.StringFlag{Name: categoryFlag, Value: "", Usage: "Category (required)"},
		manufacturerFlag: &cobraflags.StringFlag{Name: manufacturerFlag, Value: "", Usage: "Manufacturer name"},
		imageFlag:        &cobraflags.StringFlag{Name: imageFlag, Value: "", Usage: "Image file name"},
		descriptionFlag:  &cobraflags.StringFlag{Name: descriptionFlag, Value: "", Usage: "Free-text description"},
	}
}

// typedFields holds the non-string record fields, registered as typed flags so
// that parsing errors come from the flag set and --help shows the value types.
type typedFields struct {
	price     decimalValue
	onSale    bool
	rebate    bool
	inventory int64
}

func registerTypedFields(cmd *cobra.Command) *typedFields {
	tf := &typedFields{}
	cmd.Flags().Var(&tf.price, priceFlag, "Price with at most 2 decimal places, e.g. 129.99 (required)")
	cmd.Flags().BoolVar(&tf.onSale, onSaleFlag, false, "Whether the product is on sale")
	cmd.Flags().BoolVar(&tf.rebate, rebateFlag, false, "Whether a manufacturer rebate applies")
	cmd.Flags().Int64Var(&tf.inventory, inventoryFlag, 0, "Units in stock")
	return tf
}

// decimalValue is a flag value holding a decimal number.
type decimalValue struct {
	d decimal.Decimal
}

func (v *decimalValue) Set(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	v.d = d
	return nil
}

func (v *decimalValue) String() string {
	return v.d.String()
}

func (v *decimalValue) Type() string {
	return "decimal"
}

func merge(sets ...map[string]cobraflags.Flag) map[string]cobraflags.Flag {
	out := make(map[string]cobraflags.Flag)
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

func NewProductCommand() *cobra.Command {
	productCmd := &cobra.Command{
		Use:   "product [create|update|delete|get|list]",
		Short: "Manage products in the database and the XML catalog",
		Long: `Manage products. Mutations are applied to the relational Products table and
mirrored into the XML product catalog; reads come from the database.

Examples:
  catalogsync product create --name "Thermostat X" --category Climate --price 129.99
  catalogsync product update --id 42 --name "Thermostat X" --category Climate --price 119.99 --inventory 10
  catalogsync product delete --id 42
  catalogsync product list --category Climate`,
	}

	productCmd.AddCommand(newCreateCommand())
	productCmd.AddCommand(newUpdateCommand())
	productCmd.AddCommand(newDeleteCommand())
	productCmd.AddCommand(newGetCommand())
	productCmd.AddCommand(newListCommand())
	return productCmd
}

func newCreateCommand() *cobra.Command {
	flags := merge(app.StoreFlags(), recordFlags())
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product; the database assigns its identifier",
	}
	fields := registerTypedFields(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		rec := recordFromFlags(flags, fields)
		return mutate(cmd, flags, func(ctx context.Context, sync *catalogsync.Synchronizer) (catalogsync.Result, error) {
			return sync.Create(ctx, rec)
		})
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newUpdateCommand() *cobra.Command {
	flags := merge(app.StoreFlags(), idFlags(), recordFlags())
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace every field of an existing product",
	}
	fields := registerTypedFields(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		id, err := parseID(flags)
		if err != nil {
			return err
		}
		rec := recordFromFlags(flags, fields)
		rec.ID = id
		return mutate(cmd, flags, func(ctx context.Context, sync *catalogsync.Synchronizer) (catalogsync.Result, error) {
			return sync.Update(ctx, rec)
		})
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newDeleteCommand() *cobra.Command {
	flags := merge(app.StoreFlags(), idFlags())
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a product from both stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseID(flags)
			if err != nil {
				return err
			}
			return mutate(cmd, flags, func(ctx context.Context, sync *catalogsync.Synchronizer) (catalogsync.Result, error) {
				return sync.Delete(ctx, id)
			})
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newGetCommand() *cobra.Command {
	flags := merge(app.StoreFlags(), idFlags())
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a product from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseID(flags)
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, found, err := a.Table.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("product %d: %w", id, catalogsync.ErrNotFoundInDatabase)
			}
			return app.PrintJSON(cmd.OutOrStdout(), rec)
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newListCommand() *cobra.Command {
	flags := merge(app.StoreFlags(), map[string]cobraflags.Flag{
		categoryFlag: &cobraflags.StringFlag{Name: categoryFlag, Value: "", Usage: "Only products of this category"},
		nameFlag:     &cobraflags.StringFlag{Name: nameFlag, Value: "", Usage: "Only products whose model name contains this text"},
	})
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Open(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.Table.Find(cmd.Context(), producttable.Filter{
				Category:          flags[categoryFlag].GetString(),
				ModelNameContains: flags[nameFlag].GetString(),
			})
			if err != nil {
				return err
			}
			if records == nil {
				records = []product.Record{}
			}
			return app.PrintJSON(cmd.OutOrStdout(), records)
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

// mutate runs op against freshly opened stores and prints the result. A stale
// mirror is printed as a successful result and logged as a warning.
func mutate(cmd *cobra.Command, flags map[string]cobraflags.Flag,
	op func(context.Context, *catalogsync.Synchronizer) (catalogsync.Result, error)) error {
	a, err := app.Open(cmd.Context(), flags)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := op(cmd.Context(), a.Sync)
	if err != nil {
		return fmt.Errorf("%w (reasons: %v)", err, catalogsync.Reasons(err))
	}
	out := mutationOutput{Product: res.Record, Status: res.Status}
	if res.Warning != nil {
		a.Logger.Warn("Catalog mirror is stale", "id", res.Record.ID, "error", res.Warning)
		out.Warning = res.Warning.Error()
	}
	return app.PrintJSON(cmd.OutOrStdout(), out)
}

type mutationOutput struct {
	Product product.Record     `json:"product"`
	Status  catalogsync.Status `json:"status"`
	Warning string             `json:"warning,omitempty"`
}

func parseID(flags map[string]cobraflags.Flag) (int64, error) {
	raw := flags[idFlag].GetString()
	if raw == "" {
		return 0, errors.New("--id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid --id %q: must be a positive integer", raw)
	}
	return id, nil
}

// recordFromFlags builds a record without an identifier. Validation of the
// required fields is left to the synchronizer.
func recordFromFlags(flags map[string]cobraflags.Flag, fields *typedFields) product.Record {
	return product.Record{
		ModelName:          flags[nameFlag].GetString(),
		Category:           flags[categoryFlag].GetString(),
		Price:              fields.price.d,
		OnSale:             fields.onSale,
		ManufacturerName:   flags[manufacturerFlag].GetString(),
		ManufacturerRebate: fields.rebate,
		Inventory:          fields.inventory,
		Image:              flags[imageFlag].GetString(),
		Description:        flags[descriptionFlag].GetString(),
	}
}
