package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/stokaro/catalogsync/catalog/catalogsync"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
	"github.com/stokaro/catalogsync/report"
)

const suggestLimit = 10

// mutationResponse is returned by create, update and delete.
type mutationResponse struct {
	Product product.Record     `json:"product"`
	Status  catalogsync.Status `json:"status"`
	Warning string             `json:"warning,omitempty"`
	Reasons []string           `json:"reasons,omitempty"`
}

func newMutationResponse(res catalogsync.Result) mutationResponse {
	resp := mutationResponse{Product: res.Record, Status: res.Status}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
		resp.Reasons = catalogsync.Reasons(res.Warning)
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateProduct creates a product in both stores.
//
// Response:
//   - 201 Created: the product with its generated identifier. "status" is
//     "mirror_stale" when the catalog could not be written.
//   - 400 Bad Request: malformed JSON or invalid product
//   - 503 Service Unavailable: the database insert failed
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}

	res, err := s.sync.Create(r.Context(), rec)
	if err != nil {
		s.logError(r, "Create product failed", err)
		writeSyncError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/products/%d", res.Record.ID))
	writeJSON(w, http.StatusCreated, newMutationResponse(res))
}

// handleUpdateProduct replaces every field of a product. The identifier in the
// path wins; a conflicting identifier in the body is rejected.
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	if rec.ID != 0 && rec.ID != id {
		writeJSONError(w, http.StatusBadRequest, "Invalid product", "identifier in body does not match path")
		return
	}
	rec.ID = id

	res, err := s.sync.Update(r.Context(), rec)
	if err != nil {
		s.logError(r, "Update product failed", err)
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(res))
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	res, err := s.sync.Delete(r.Context(), id)
	if err != nil {
		s.logError(r, "Delete product failed", err)
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(res))
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, found, err := s.products.Get(r.Context(), id)
	if err != nil {
		s.logError(r, "Get product failed", err)
		writeJSONError(w, http.StatusInternalServerError, "Database error", err.Error())
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "Product not found", "")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListProducts lists products, optionally filtered by category ("type"),
// "onSale" and "rebate".
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := producttable.Filter{Category: query.Get("type")}

	var err error
	if filter.OnSale, err = parseBoolParam(query, "onSale"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if filter.Rebate, err = parseBoolParam(query, "rebate"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	s.writeProducts(w, r, filter)
}

// handleSuggest returns up to ten products whose model name contains q, for
// search-as-you-type.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []product.Record{})
		return
	}
	s.writeProducts(w, r, producttable.Filter{ModelNameContains: q, Limit: suggestLimit})
}

func (s *Server) writeProducts(w http.ResponseWriter, r *http.Request, filter producttable.Filter) {
	records, err := s.products.Find(r.Context(), filter)
	if err != nil {
		s.logError(r, "List products failed", err)
		writeJSONError(w, http.StatusInternalServerError, "Database error", err.Error())
		return
	}
	if records == nil {
		records = []product.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := report.BuildInventory(r.Context(), s.products)
	if err != nil {
		s.logError(r, "Inventory report failed", err)
		writeJSONError(w, http.StatusInternalServerError, "Database error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	drift, err := report.BuildDrift(r.Context(), s.products, s.catalog)
	if err != nil {
		s.logError(r, "Drift report failed", err)
		writeJSONError(w, http.StatusInternalServerError, "Drift report failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		InSync bool `json:"inSync"`
		report.Drift
	}{InSync: drift.InSync(), Drift: drift})
}

func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (product.Record, bool) {
	var rec product.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return product.Record{}, false
	}
	return rec, true
}

func (s *Server) logError(r *http.Request, msg string, err error) {
	s.logger.Warn(msg,
		"error", err,
		"reasons", catalogsync.Reasons(err),
		"request_id", RequestIDFromContext(r.Context()),
	)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "Invalid product ID", raw)
		return 0, false
	}
	return id, true
}

func parseBoolParam(query url.Values, name string) (*bool, error) {
	raw := query.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return &v, nil
}
