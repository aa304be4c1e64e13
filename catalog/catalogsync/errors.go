package catalogsync

import (
	"errors"

	"github.com/stokaro/catalogsync/catalog/document"
	"github.com/stokaro/catalogsync/core/product"
)

var (
	// ErrDatabaseWriteFailed means the relational operation itself errored.
	ErrDatabaseWriteFailed = errors.New("database write failed")
	// ErrCatalogMirrorFailed means the catalog could not be updated. After a
	// successful relational write it is reported as a warning, not a failure.
	ErrCatalogMirrorFailed = errors.New("catalog mirror failed")
	// ErrNotFoundInCatalog means no catalog element matches the target product.
	ErrNotFoundInCatalog = errors.New("product not found in catalog")
	// ErrNotFoundInDatabase means the relational row does not exist.
	ErrNotFoundInDatabase = errors.New("product not found in database")
	// ErrCompensationFailed means restoring the catalog after a failed relational
	// delete did not succeed. It is always joined with the error that triggered it.
	ErrCompensationFailed = errors.New("catalog compensation failed")
	// ErrCorruptCatalog means the catalog file exists but is not a well-formed catalog.
	ErrCorruptCatalog = document.ErrCorruptCatalog
)

// Machine-readable reason codes, as returned by Reasons.
const (
	ReasonInvalidRecord       = "invalid_record"
	ReasonDatabaseWriteFailed = "database_write_failed"
	ReasonCatalogMirrorFailed = "catalog_mirror_failed"
	ReasonNotFoundInCatalog   = "not_found_in_catalog"
	ReasonNotFoundInDatabase  = "not_found_in_database"
	ReasonCorruptCatalog      = "corrupt_catalog"
	ReasonCompensationFailed  = "compensation_failed"
)

var reasonCodes = []struct {
	err  error
	code string
}{
	{product.ErrInvalidRecord, ReasonInvalidRecord},
	{ErrDatabaseWriteFailed, ReasonDatabaseWriteFailed},
	{ErrCatalogMirrorFailed, ReasonCatalogMirrorFailed},
	{ErrNotFoundInCatalog, ReasonNotFoundInCatalog},
	{ErrNotFoundInDatabase, ReasonNotFoundInDatabase},
	{ErrCorruptCatalog, ReasonCorruptCatalog},
	{ErrCompensationFailed, ReasonCompensationFailed},
}

// Reasons returns the reason code of every known error found in the chain of err,
// in a fixed order. It returns nil for nil or unclassified errors.
func Reasons(err error) []string {
	if err == nil {
		return nil
	}
	var codes []string
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			codes = append(codes, rc.code)
		}
	}
	return codes
}
