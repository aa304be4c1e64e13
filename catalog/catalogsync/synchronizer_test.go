package catalogsync_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/stokaro/catalogsync/catalog/catalogsync"
	"github.com/stokaro/catalogsync/catalog/document"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable/producttabletest"
)

const catalogPath = "/srv/catalog/ProductCatalog.xml"

var recordEquals = qt.CmpEquals(cmp.Comparer(func(a, b decimal.Decimal) bool {
	return a.Equal(b)
}))

// errRenameRefused is returned by toggleFs while writes are switched off.
var errRenameRefused = errors.New("rename refused")

// toggleFs fails every Rename once failing is set, so saves stop reaching the
// catalog file at a chosen moment.
type toggleFs struct {
	afero.Fs
	failing atomic.Bool
}

func (f *toggleFs) Rename(oldname, newname string) error {
	if f.failing.Load() {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errRenameRefused}
	}
	return f.Fs.Rename(oldname, newname)
}

type fixture struct {
	sync  *catalogsync.Synchronizer
	table *producttabletest.Fake
	store *document.Store
	fs    afero.Fs
}

func newFixture(c *qt.C, fs afero.Fs) *fixture {
	c.Helper()
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	table := producttabletest.New()
	store := document.NewStore(catalogPath, document.WithFs(fs))
	return &fixture{
		sync:  catalogsync.New(table, store),
		table: table,
		store: store,
		fs:    fs,
	}
}

func (f *fixture) writeCatalog(c *qt.C, content string) {
	c.Helper()
	c.Assert(f.fs.MkdirAll(filepath.Dir(catalogPath), 0o755), qt.IsNil)
	c.Assert(afero.WriteFile(f.fs, catalogPath, []byte(content), 0o644), qt.IsNil)
}

func (f *fixture) readCatalog(c *qt.C) string {
	c.Helper()
	data, err := afero.ReadFile(f.fs, catalogPath)
	c.Assert(err, qt.IsNil)
	return string(data)
}

func (f *fixture) catalogRecord(c *qt.C, id int64) (product.Record, bool) {
	c.Helper()
	doc, err := f.store.Load()
	c.Assert(err, qt.IsNil)
	el, ok := doc.FindByIDOrKey(id, product.MatchKey{})
	if !ok {
		return product.Record{}, false
	}
	rec, err := el.Record()
	c.Assert(err, qt.IsNil)
	return rec, true
}

func (f *fixture) catalogLen(c *qt.C) int {
	c.Helper()
	doc, err := f.store.Load()
	c.Assert(err, qt.IsNil)
	return doc.Len()
}

func thermostat() product.Record {
	return product.Record{
		ModelName: "Thermostat X",
		Category:  "Climate",
		Price:     decimal.RequireFromString("129.99"),
		Inventory: 50,
	}
}

const legacyThermostat = `<?xml version="1.0" encoding="UTF-8"?>
<ProductCatalog>
  <Product>
    <ProductModelName>Thermostat X</ProductModelName>
    <ProductCategory>Climate</ProductCategory>
    <ProductPrice>129.99</ProductPrice>
    <Inventory>50</Inventory>
  </Product>
</ProductCatalog>
`

func TestCreate_AssignsIdentifierAndMirrors(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.table.SetNextID(42)

	res, err := f.sync.Create(context.Background(), thermostat())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusConsistent)
	c.Assert(res.Warning, qt.IsNil)
	c.Assert(res.Record.ID, qt.Equals, int64(42))

	want := thermostat()
	want.ID = 42
	c.Assert(res.Record, recordEquals, want)

	mirrored, ok := f.catalogRecord(c, 42)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mirrored, recordEquals, want)
	c.Assert(f.table.Rows(), recordEquals, []product.Record{want})

	c.Assert(f.readCatalog(c), qt.Contains, "<ProductID>42</ProductID>")
}

func TestCreate_InsertFailureSkipsCatalog(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.table.InsertErr = producttabletest.ErrOutage

	_, err := f.sync.Create(context.Background(), thermostat())
	c.Assert(errors.Is(err, catalogsync.ErrDatabaseWriteFailed), qt.IsTrue)
	c.Assert(errors.Is(err, producttabletest.ErrOutage), qt.IsTrue)
	c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{catalogsync.ReasonDatabaseWriteFailed})

	exists, err := afero.Exists(f.fs, catalogPath)
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.IsFalse)
}

func TestCreate_MirrorFailureIsWarning(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *qt.C, base afero.Fs) afero.Fs
		cause   error
	}{
		{
			name: "read-only filesystem",
			prepare: func(c *qt.C, base afero.Fs) afero.Fs {
				return afero.NewReadOnlyFs(base)
			},
		},
		{
			name: "corrupt catalog",
			prepare: func(c *qt.C, base afero.Fs) afero.Fs {
				c.Assert(base.MkdirAll(filepath.Dir(catalogPath), 0o755), qt.IsNil)
				c.Assert(afero.WriteFile(base, catalogPath, []byte("not a catalog"), 0o644), qt.IsNil)
				return base
			},
			cause: catalogsync.ErrCorruptCatalog,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture(c, tt.prepare(c, afero.NewMemMapFs()))

			res, err := f.sync.Create(context.Background(), thermostat())
			c.Assert(err, qt.IsNil)
			c.Assert(res.Status, qt.Equals, catalogsync.StatusMirrorStale)
			c.Assert(res.Record.ID, qt.Equals, int64(1))
			c.Assert(errors.Is(res.Warning, catalogsync.ErrCatalogMirrorFailed), qt.IsTrue)
			if tt.cause != nil {
				c.Assert(errors.Is(res.Warning, tt.cause), qt.IsTrue)
			}

			// The relational row is kept
			c.Assert(f.table.Rows(), qt.HasLen, 1)
		})
	}
}

func TestCreate_OverwritesLeftoverElement(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.writeCatalog(c, `<ProductCatalog><Product><ProductID>1</ProductID><ProductModelName>Old</ProductModelName></Product></ProductCatalog>`)

	res, err := f.sync.Create(context.Background(), thermostat())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Record.ID, qt.Equals, int64(1))
	c.Assert(f.catalogLen(c), qt.Equals, 1)

	mirrored, ok := f.catalogRecord(c, 1)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mirrored.ModelName, qt.Equals, "Thermostat X")
}

func TestCreate_RejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*product.Record)
	}{
		{
			name:   "missing model name",
			modify: func(r *product.Record) { r.ModelName = "" },
		},
		{
			name:   "missing category",
			modify: func(r *product.Record) { r.Category = " " },
		},
		{
			name:   "negative price",
			modify: func(r *product.Record) { r.Price = decimal.RequireFromString("-1") },
		},
		{
			name:   "negative inventory",
			modify: func(r *product.Record) { r.Inventory = -5 },
		},
		{
			name:   "identifier already set",
			modify: func(r *product.Record) { r.ID = 7 },
		},
		{
			name:   "price finer than cents",
			modify: func(r *product.Record) { r.Price = decimal.RequireFromString("129.999") },
		},
		{
			name:   "control character in description",
			modify: func(r *product.Record) { r.Description = "bad\x00byte" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture(c, nil)
			rec := thermostat()
			tt.modify(&rec)

			_, err := f.sync.Create(context.Background(), rec)
			c.Assert(errors.Is(err, product.ErrInvalidRecord), qt.IsTrue, qt.Commentf("got %v", err))
			c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{catalogsync.ReasonInvalidRecord})
			c.Assert(f.table.Calls(), qt.HasLen, 0)
		})
	}
}

func TestOperations_CancelledBeforeFirstStep(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.ErrorIs, context.Canceled)

	rec := thermostat()
	rec.ID = 1
	_, err = f.sync.Update(ctx, rec)
	c.Assert(err, qt.ErrorIs, context.Canceled)

	_, err = f.sync.Delete(ctx, 1)
	c.Assert(err, qt.ErrorIs, context.Canceled)

	c.Assert(f.table.Calls(), qt.HasLen, 0)
}

func TestOperations_IgnoreCancellationAfterFirstStep(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.table.OnInsert = func(product.Record) { cancel() }

	res, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusConsistent)
	c.Assert(f.catalogLen(c), qt.Equals, 1)
}

func TestUpdate_ChangesInventory(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := newFixture(c, nil)
	f.table.SetNextID(42)

	created, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)

	rec := created.Record
	rec.Inventory = 10
	res, err := f.sync.Update(ctx, rec)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusConsistent)
	c.Assert(res.Record, recordEquals, rec)

	mirrored, ok := f.catalogRecord(c, 42)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mirrored.Inventory, qt.Equals, int64(10))
	c.Assert(f.catalogLen(c), qt.Equals, 1)

	c.Assert(f.table.Rows()[0].Inventory, qt.Equals, int64(10))
	c.Assert(f.table.Calls(), qt.DeepEquals, []string{"insert", "get", "update"})
}

func TestUpdate_AppendsWhenCatalogMisses(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.writeCatalog(c, `<ProductCatalog><Product><ProductID>3</ProductID><ProductModelName>Smart Plug</ProductModelName></Product></ProductCatalog>`)

	rec := thermostat()
	rec.ID = 42
	f.table.Put(rec)
	rec.Inventory = 10

	res, err := f.sync.Update(context.Background(), rec)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusConsistent)

	c.Assert(f.catalogLen(c), qt.Equals, 2)
	mirrored, ok := f.catalogRecord(c, 42)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mirrored, recordEquals, rec)
}

func TestUpdate_UpgradesLegacyElement(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.writeCatalog(c, legacyThermostat)

	row := thermostat()
	row.ID = 42
	f.table.Put(row)

	// The price changes, so only the key the row had before can find the element
	rec := row
	rec.Price = decimal.RequireFromString("99.5")

	_, err := f.sync.Update(context.Background(), rec)
	c.Assert(err, qt.IsNil)
	c.Assert(f.catalogLen(c), qt.Equals, 1)

	mirrored, ok := f.catalogRecord(c, 42)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mirrored, recordEquals, rec)
	c.Assert(f.readCatalog(c), qt.Contains, "<ProductPrice>99.5</ProductPrice>")
}

func TestUpdate_DatabaseFailureKeepsCatalogChange(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		target error
		reason string
	}{
		{
			name: "database error",
			setup: func(f *fixture) {
				f.table.UpdateErr = producttabletest.ErrOutage
			},
			target: catalogsync.ErrDatabaseWriteFailed,
			reason: catalogsync.ReasonDatabaseWriteFailed,
		},
		{
			name: "row missing",
			setup: func(f *fixture) {
				for _, rec := range f.table.Rows() {
					_, _ = f.table.Delete(context.Background(), rec.ID)
				}
			},
			target: catalogsync.ErrNotFoundInDatabase,
			reason: catalogsync.ReasonNotFoundInDatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			f := newFixture(c, nil)

			created, err := f.sync.Create(ctx, thermostat())
			c.Assert(err, qt.IsNil)
			tt.setup(f)

			rec := created.Record
			rec.Inventory = 10
			_, err = f.sync.Update(ctx, rec)
			c.Assert(errors.Is(err, tt.target), qt.IsTrue, qt.Commentf("got %v", err))
			c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{tt.reason})

			mirrored, ok := f.catalogRecord(c, rec.ID)
			c.Assert(ok, qt.IsTrue)
			c.Assert(mirrored.Inventory, qt.Equals, int64(10))
		})
	}
}

func TestUpdate_MirrorFailureStillUpdatesRow(t *testing.T) {
	c := qt.New(t)
	fs := &toggleFs{Fs: afero.NewMemMapFs()}
	f := newFixture(c, fs)
	ctx := context.Background()

	created, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)
	fs.failing.Store(true)

	rec := created.Record
	rec.Inventory = 7
	res, err := f.sync.Update(ctx, rec)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusMirrorStale)
	c.Assert(errors.Is(res.Warning, catalogsync.ErrCatalogMirrorFailed), qt.IsTrue)
	c.Assert(errors.Is(res.Warning, errRenameRefused), qt.IsTrue)
	c.Assert(f.table.Rows()[0].Inventory, qt.Equals, int64(7))

	mirrored, _ := f.catalogRecord(c, rec.ID)
	c.Assert(mirrored.Inventory, qt.Equals, int64(50))
}

func TestUpdate_BothStoresFail(t *testing.T) {
	c := qt.New(t)
	fs := &toggleFs{Fs: afero.NewMemMapFs()}
	f := newFixture(c, fs)
	ctx := context.Background()

	created, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)
	fs.failing.Store(true)
	f.table.UpdateErr = producttabletest.ErrOutage

	_, err = f.sync.Update(ctx, created.Record)
	c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{
		catalogsync.ReasonDatabaseWriteFailed,
		catalogsync.ReasonCatalogMirrorFailed,
	})
}

func TestUpdate_RequiresIdentifier(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)

	_, err := f.sync.Update(context.Background(), thermostat())
	c.Assert(errors.Is(err, product.ErrInvalidRecord), qt.IsTrue)
	c.Assert(f.table.Calls(), qt.HasLen, 0)
}

func TestDelete_RemovesFromBothStores(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := newFixture(c, nil)
	f.table.SetNextID(42)

	created, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)

	res, err := f.sync.Delete(ctx, 42)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, catalogsync.StatusConsistent)
	c.Assert(res.Record, recordEquals, created.Record)

	c.Assert(f.table.Rows(), qt.HasLen, 0)
	c.Assert(f.catalogLen(c), qt.Equals, 0)
}

func TestDelete_LegacyElementByKey(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.writeCatalog(c, legacyThermostat)

	row := thermostat()
	row.ID = 42
	f.table.Put(row)

	res, err := f.sync.Delete(context.Background(), 42)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Record.ID, qt.Equals, int64(42))
	c.Assert(f.catalogLen(c), qt.Equals, 0)
	c.Assert(f.table.Rows(), qt.HasLen, 0)
}

func TestDelete_NotInCatalog(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	row := thermostat()
	row.ID = 42
	row.ModelName = "Thermostat Y"
	f.table.Put(row)
	f.writeCatalog(c, legacyThermostat)

	_, err := f.sync.Delete(context.Background(), 42)
	c.Assert(errors.Is(err, catalogsync.ErrNotFoundInCatalog), qt.IsTrue)
	c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{catalogsync.ReasonNotFoundInCatalog})

	// No relational delete is attempted
	c.Assert(f.table.Calls(), qt.Not(qt.Contains), "delete")
	c.Assert(f.table.Rows(), qt.HasLen, 1)
	c.Assert(f.readCatalog(c), qt.Equals, legacyThermostat)
}

func TestDelete_CorruptCatalog(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, nil)
	f.writeCatalog(c, "not a catalog")
	row := thermostat()
	row.ID = 42
	f.table.Put(row)

	_, err := f.sync.Delete(context.Background(), 42)
	c.Assert(errors.Is(err, catalogsync.ErrCorruptCatalog), qt.IsTrue, qt.Commentf("got %v", err))
	c.Assert(f.table.Calls(), qt.HasLen, 0)
	c.Assert(f.table.Rows(), qt.HasLen, 1)
}

func TestDelete_CompensatesDatabaseFailure(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *producttabletest.Fake)
		target error
		reason string
	}{
		{
			name: "database outage",
			setup: func(t *producttabletest.Fake) {
				t.DeleteErr = producttabletest.ErrOutage
			},
			target: catalogsync.ErrDatabaseWriteFailed,
			reason: catalogsync.ReasonDatabaseWriteFailed,
		},
		{
			name: "row already gone",
			setup: func(t *producttabletest.Fake) {
				t.IgnoreDeletes = true
			},
			target: catalogsync.ErrNotFoundInDatabase,
			reason: catalogsync.ReasonNotFoundInDatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			f := newFixture(c, nil)

			for _, name := range []string{"Smart Plug", "Video Doorbell"} {
				rec := thermostat()
				rec.ModelName = name
				_, err := f.sync.Create(ctx, rec)
				c.Assert(err, qt.IsNil)
			}
			f.table.SetNextID(42)
			_, err := f.sync.Create(ctx, thermostat())
			c.Assert(err, qt.IsNil)

			before := f.readCatalog(c)
			tt.setup(f.table)

			_, err = f.sync.Delete(ctx, 1)
			c.Assert(errors.Is(err, tt.target), qt.IsTrue, qt.Commentf("got %v", err))
			c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{tt.reason})
			c.Assert(f.readCatalog(c), qt.Equals, before)

			_, err = f.sync.Delete(ctx, 42)
			c.Assert(errors.Is(err, tt.target), qt.IsTrue)
			c.Assert(f.readCatalog(c), qt.Equals, before)

			restored, ok := f.catalogRecord(c, 42)
			c.Assert(ok, qt.IsTrue)
			want := thermostat()
			want.ID = 42
			c.Assert(restored, recordEquals, want)
		})
	}
}

func TestDelete_CompensationFailureIsChained(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	fs := &toggleFs{Fs: afero.NewMemMapFs()}
	f := newFixture(c, fs)

	created, err := f.sync.Create(ctx, thermostat())
	c.Assert(err, qt.IsNil)

	// The catalog removal is saved, then every later save fails
	f.table.OnDelete = func(int64) { fs.failing.Store(true) }
	f.table.DeleteErr = producttabletest.ErrOutage

	_, err = f.sync.Delete(ctx, created.Record.ID)
	c.Assert(err, qt.IsNotNil)
	c.Assert(errors.Is(err, producttabletest.ErrOutage), qt.IsTrue)
	c.Assert(errors.Is(err, errRenameRefused), qt.IsTrue)
	c.Assert(catalogsync.Reasons(err), qt.DeepEquals, []string{
		catalogsync.ReasonDatabaseWriteFailed,
		catalogsync.ReasonCompensationFailed,
	})

	c.Assert(f.catalogLen(c), qt.Equals, 0)
	c.Assert(f.table.Rows(), qt.HasLen, 1)
}

func TestSynchronizer_ConcurrentCreatesKeepEveryMirror(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := newFixture(c, nil)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := thermostat()
			rec.ModelName = fmt.Sprintf("Sensor %d", i)
			res, err := f.sync.Create(ctx, rec)
			if err == nil && res.Status != catalogsync.StatusConsistent {
				err = res.Warning
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		c.Assert(err, qt.IsNil)
	}
	c.Assert(f.catalogLen(c), qt.Equals, workers)
	c.Assert(f.table.Rows(), qt.HasLen, workers)
}
