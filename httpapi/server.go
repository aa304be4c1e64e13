// Package httpapi exposes the product catalog over HTTP.
//
// Mutations go through the catalog synchronizer so both stores stay in step;
// reads are served from the relational table, which is authoritative.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stokaro/catalogsync/catalog/catalogsync"
	"github.com/stokaro/catalogsync/catalog/document"
	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ProductReader is the read side of the relational table.
type ProductReader interface {
	Get(ctx context.Context, id int64) (product.Record, bool, error)
	Find(ctx context.Context, filter producttable.Filter) ([]product.Record, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	sync     *catalogsync.Synchronizer
	products ProductReader
	catalog  *document.Store
	logger   *slog.Logger
}

// NewServer creates a server. catalog is only read, for drift reports.
func NewServer(sync *catalogsync.Synchronizer, products ProductReader, catalog *document.Store) *Server {
	return &Server{
		sync:     sync,
		products: products,
		catalog:  catalog,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the server
func (s *Server) WithLogger(l *slog.Logger) *Server {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// Handler registers the routes and returns them wrapped in middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// Fixed paths must come before /products/{id}
	router.HandleFunc("/products/inventory", s.handleInventory).Methods(http.MethodGet)
	router.HandleFunc("/products/suggest", s.handleSuggest).Methods(http.MethodGet)

	router.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	router.HandleFunc("/products", s.handleCreateProduct).Methods(http.MethodPost)
	router.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	router.HandleFunc("/products/{id}", s.handleUpdateProduct).Methods(http.MethodPut)
	router.HandleFunc("/products/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)

	router.HandleFunc("/catalog/drift", s.handleDrift).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found", "")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})

	return WithRequestID(WithLogging(s.logger, router))
}
