package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stokaro/catalogsync/catalog/catalogsync"
	"github.com/stokaro/catalogsync/core/product"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error payload with the given status code.
func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

// writeSyncError reports a failed synchronizer operation with its reason codes.
func writeSyncError(w http.ResponseWriter, err error) {
	status, message := classify(err)
	writeJSON(w, status, jsonError{
		Error:   message,
		Details: err.Error(),
		Reasons: catalogsync.Reasons(err),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, product.ErrInvalidRecord):
		return http.StatusBadRequest, "Invalid product"
	case errors.Is(err, catalogsync.ErrCompensationFailed):
		return http.StatusInternalServerError, "Catalog could not be restored"
	case errors.Is(err, catalogsync.ErrNotFoundInCatalog), errors.Is(err, catalogsync.ErrNotFoundInDatabase):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, catalogsync.ErrDatabaseWriteFailed):
		return http.StatusServiceUnavailable, "Database error"
	case errors.Is(err, catalogsync.ErrCorruptCatalog):
		return http.StatusInternalServerError, "Catalog is corrupt"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
