// Package catalogsync keeps the relational product table and the XML catalog
// mirror consistent across create, update and delete.
//
// The relational table is authoritative. Each operation is a short sequence of
// writes against the two stores with a fixed order and a fixed failure policy:
//
//   - Create inserts the row first and mirrors it afterwards. A mirror failure is
//     reported as a warning and never rolled back.
//   - Update writes the catalog first (upserting when no element matches) and the
//     row afterwards. A failed row update does not revert the catalog.
//   - Delete removes the catalog element first and the row afterwards. A failed
//     row delete puts the removed element back, which is the only compensation.
//
// All operations on one catalog are serialized through the lock of its
// [document.Store]. Once the first write has started an operation runs to
// completion even if its context is cancelled.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stokaro/catalogsync/catalog/document"
	"github.com/stokaro/catalogsync/core/product"
)

// Table is the relational store as seen by the synchronizer.
type Table interface {
	// Insert stores the record and returns the generated identifier.
	Insert(ctx context.Context, rec product.Record) (int64, error)
	// Update overwrites the row with rec.ID and returns the affected row count.
	Update(ctx context.Context, rec product.Record) (int64, error)
	// Delete removes the row and returns the affected row count.
	Delete(ctx context.Context, id int64) (int64, error)
	// Get returns the row, or false when it does not exist.
	Get(ctx context.Context, id int64) (product.Record, bool, error)
}

// Status tells whether both stores agree after a successful operation.
type Status string

const (
	// StatusConsistent means both stores hold the result.
	StatusConsistent Status = "consistent"
	// StatusMirrorStale means the relational store was updated but the catalog was not.
	StatusMirrorStale Status = "mirror_stale"
)

// Result is the outcome of a successful operation.
type Result struct {
	// Record is the canonical record: the created or updated record, or the
	// record that was deleted.
	Record product.Record
	Status Status
	// Warning is set when Status is StatusMirrorStale and wraps ErrCatalogMirrorFailed.
	Warning error
}

// Synchronizer orchestrates writes to the relational table and the catalog.
type Synchronizer struct {
	table   Table
	catalog *document.Store
	logger  *slog.Logger
}

// New creates a synchronizer over table and catalog.
func New(table Table, catalog *document.Store) *Synchronizer {
	return &Synchronizer{
		table:   table,
		catalog: catalog,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the synchronizer
func (s *Synchronizer) WithLogger(l *slog.Logger) *Synchronizer {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// Create inserts rec into the relational table and mirrors it into the catalog.
// rec must not carry an identifier; the returned record carries the generated one.
//
// If the insert fails nothing is written to the catalog and the error wraps
// ErrDatabaseWriteFailed. If only the mirror fails, Create still succeeds with
// StatusMirrorStale.
func (s *Synchronizer) Create(ctx context.Context, rec product.Record) (Result, error) {
	if err := rec.Validate(); err != nil {
		return Result{}, err
	}
	if rec.ID != 0 {
		return Result{}, fmt.Errorf("%w: identifier is assigned by the database", product.ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx = context.WithoutCancel(ctx)

	s.catalog.Lock()
	defer s.catalog.Unlock()

	id, err := s.table.Insert(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDatabaseWriteFailed, err)
	}
	rec.ID = id
	logger := s.logger.With("productID", id)

	if err := s.mirrorCreate(logger, rec); err != nil {
		logger.Warn("Product created without catalog mirror", "error", err)
		return Result{
			Record:  rec,
			Status:  StatusMirrorStale,
			Warning: fmt.Errorf("%w: %w", ErrCatalogMirrorFailed, err),
		}, nil
	}

	logger.Info("Product created")
	return Result{Record: rec, Status: StatusConsistent}, nil
}

func (s *Synchronizer) mirrorCreate(logger *slog.Logger, rec product.Record) error {
	doc, err := s.catalog.Load()
	if err != nil {
		return err
	}
	if el, ok := doc.FindByID(rec.ID); ok {
		// Left behind by an earlier row with a recycled identifier
		logger.Warn("Catalog already holds the new identifier, overwriting element")
		doc.UpdateElement(el, rec)
	} else {
		doc.Append(rec)
	}
	return s.catalog.Save(doc)
}

// Update writes rec to the catalog and then to the relational row rec.ID.
//
// When no catalog element matches, one is appended. A failed row update
// (ErrDatabaseWriteFailed) or a missing row (ErrNotFoundInDatabase) is reported
// without reverting the catalog. When only the catalog write fails the row is
// still updated and Update succeeds with StatusMirrorStale.
func (s *Synchronizer) Update(ctx context.Context, rec product.Record) (Result, error) {
	if err := rec.Validate(); err != nil {
		return Result{}, err
	}
	if rec.ID <= 0 {
		return Result{}, fmt.Errorf("%w: identifier is required", product.ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx = context.WithoutCancel(ctx)

	s.catalog.Lock()
	defer s.catalog.Unlock()

	logger := s.logger.With("productID", rec.ID)

	// Legacy elements are found by the key the product had before this update
	key := rec.Key()
	if prior, ok := s.prior(ctx, logger, rec.ID); ok {
		key = prior.Key()
	}

	mirrorErr := s.mirrorUpdate(logger, rec, key)

	n, err := s.table.Update(ctx, rec)
	var dbErr error
	switch {
	case err != nil:
		dbErr = fmt.Errorf("%w: %w", ErrDatabaseWriteFailed, err)
	case n == 0:
		dbErr = fmt.Errorf("%w: id %d", ErrNotFoundInDatabase, rec.ID)
	}

	if dbErr != nil {
		if mirrorErr != nil {
			return Result{}, errors.Join(dbErr, fmt.Errorf("%w: %w", ErrCatalogMirrorFailed, mirrorErr))
		}
		logger.Warn("Database update failed, catalog keeps the new values", "error", dbErr)
		return Result{}, dbErr
	}

	if mirrorErr != nil {
		logger.Warn("Product updated without catalog mirror", "error", mirrorErr)
		return Result{
			Record:  rec,
			Status:  StatusMirrorStale,
			Warning: fmt.Errorf("%w: %w", ErrCatalogMirrorFailed, mirrorErr),
		}, nil
	}

	logger.Info("Product updated")
	return Result{Record: rec, Status: StatusConsistent}, nil
}

func (s *Synchronizer) mirrorUpdate(logger *slog.Logger, rec product.Record, key product.MatchKey) error {
	doc, err := s.catalog.Load()
	if err != nil {
		return err
	}
	if el, ok := doc.FindByIDOrKey(rec.ID, key); ok {
		doc.UpdateElement(el, rec)
	} else {
		logger.Info("Product missing from catalog, appending it")
		doc.Append(rec)
	}
	return s.catalog.Save(doc)
}

// Delete removes the product from the catalog and then from the relational table.
//
// If no catalog element matches, Delete fails with ErrNotFoundInCatalog and the
// row is left alone. If the row delete fails (ErrDatabaseWriteFailed) or finds
// no row (ErrNotFoundInDatabase), the removed element is put back in its former
// position. A failed restore is joined onto the error as ErrCompensationFailed.
func (s *Synchronizer) Delete(ctx context.Context, id int64) (Result, error) {
	if id <= 0 {
		return Result{}, fmt.Errorf("%w: identifier is required", product.ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx = context.WithoutCancel(ctx)

	s.catalog.Lock()
	defer s.catalog.Unlock()

	logger := s.logger.With("productID", id)

	doc, err := s.catalog.Load()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCatalogMirrorFailed, err)
	}

	var key product.MatchKey
	prior, hasPrior := s.prior(ctx, logger, id)
	if hasPrior {
		key = prior.Key()
	}

	el, ok := doc.FindByIDOrKey(id, key)
	if !ok {
		return Result{}, fmt.Errorf("%w: id %d", ErrNotFoundInCatalog, id)
	}

	removed := prior
	if !hasPrior {
		// Best effort; malformed fields just stay zero in the returned record
		removed, _ = el.Record()
		removed.ID = id
	}

	snapshot := el.Clone()
	pos := doc.Remove(el)
	if err := s.catalog.Save(doc); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCatalogMirrorFailed, err)
	}

	n, err := s.table.Delete(ctx, id)
	var dbErr error
	switch {
	case err != nil:
		dbErr = fmt.Errorf("%w: %w", ErrDatabaseWriteFailed, err)
	case n == 0:
		dbErr = fmt.Errorf("%w: id %d", ErrNotFoundInDatabase, id)
	}

	if dbErr != nil {
		doc.Restore(pos, snapshot)
		if err := s.catalog.Save(doc); err != nil {
			logger.Error("Failed to restore catalog element after database delete failure",
				"error", err, "cause", dbErr)
			return Result{}, errors.Join(dbErr, fmt.Errorf("%w: %w", ErrCompensationFailed, err))
		}
		logger.Warn("Database delete failed, catalog element restored", "error", dbErr)
		return Result{}, dbErr
	}

	logger.Info("Product deleted")
	return Result{Record: removed, Status: StatusConsistent}, nil
}

// prior fetches the current row. A lookup error only costs the key fallback, so
// it is logged and treated as a missing row.
func (s *Synchronizer) prior(ctx context.Context, logger *slog.Logger, id int64) (product.Record, bool) {
	rec, ok, err := s.table.Get(ctx, id)
	if err != nil {
		logger.Debug("Failed to read product row for catalog matching", "error", err)
		return product.Record{}, false
	}
	return rec, ok
}
