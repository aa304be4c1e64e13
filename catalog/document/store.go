// Package document provides file-backed storage for the legacy XML product catalog.
//
// The catalog is a single UTF-8 XML file with a ProductCatalog root holding zero or
// more Product elements. Every mutation happens on an in-memory [Document] and only
// becomes visible once [Store.Save] rewrites the whole file. Because a save is a
// full rewrite, callers must load, mutate and save while holding the store lock
// (see [Store.Lock]) or concurrent writers will lose each other's changes.
package document

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/stokaro/catalogsync/catalog/matcher"
)

const (
	// RootTag is the name of the catalog's root container element.
	RootTag = "ProductCatalog"
	// ProductTag is the name of each product element.
	ProductTag = "Product"

	xmlDeclaration = `version="1.0" encoding="UTF-8"`
	indentSpaces   = 2
	defaultMode    = os.FileMode(0o644)
)

// ErrCorruptCatalog is returned by Load when the backing file exists but is not a
// well-formed catalog.
var ErrCorruptCatalog = errors.New("corrupt catalog")

// Store is a handle on one catalog file. Copies made by WithLogger share the same lock.
type Store struct {
	fs      afero.Fs
	path    string
	matcher matcher.Matcher
	mu      *sync.Mutex
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem the catalog lives on. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithMatcher replaces the element matcher used by documents loaded from the store.
func WithMatcher(m matcher.Matcher) Option {
	return func(s *Store) {
		s.matcher = m
	}
}

// NewStore creates a store for the catalog file at path
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		fs:      afero.NewOsFs(),
		path:    path,
		matcher: matcher.Legacy{},
		mu:      &sync.Mutex{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLogger sets the logger for the store
func (s *Store) WithLogger(l *slog.Logger) *Store {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// Path returns the location of the backing file
func (s *Store) Path() string {
	return s.path
}

// Lock acquires the single-writer lock of the catalog file.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the single-writer lock of the catalog file.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// Load parses the backing file into an in-memory document. A missing file yields a
// new document holding only the root container.
func (s *Store) Load() (*Document, error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog %s: %w", s.path, err)
	}
	if !exists {
		s.logger.Debug("Catalog file not found, starting empty catalog", "path", s.path)
		return newDocument(s.matcher), nil
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", s.path, err)
	}
	defer f.Close()

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if _, err := doc.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptCatalog, s.path, err)
	}

	if err := checkTopLevel(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptCatalog, s.path, err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: %s: no root element", ErrCorruptCatalog, s.path)
	}
	if root.Tag != RootTag {
		return nil, fmt.Errorf("%w: %s: unexpected root element %q", ErrCorruptCatalog, s.path, root.Tag)
	}

	return &Document{doc: doc, matcher: s.matcher}, nil
}

// Save rewrites the backing file with the indented document. The new content is
// written to a temporary file in the same directory and renamed over the old one,
// so readers never observe a partially written catalog.
func (s *Store) Save(d *Document) error {
	d.normalizeDeclaration()
	d.doc.Indent(indentSpaces)

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory %s: %w", dir, err)
	}

	mode := defaultMode
	if info, err := s.fs.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary catalog file: %w", err)
	}
	tmpName := tmp.Name()

	// Remove the temporary file on any failure below
	cleanup := func() {
		_ = s.fs.Remove(tmpName)
	}

	if _, err := d.doc.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	if err := s.fs.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to set catalog permissions: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace catalog %s: %w", s.path, err)
	}

	s.logger.Debug("Saved catalog", "path", s.path, "products", d.Len())
	return nil
}

// checkTopLevel rejects documents that etree parses leniently: a well-formed
// file has exactly one element at the top level and no text outside it.
func checkTopLevel(doc *etree.Document) error {
	elements := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			elements++
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return fmt.Errorf("text %q outside the root element", truncate(strings.TrimSpace(t.Data), 20))
			}
		}
	}
	if elements > 1 {
		return fmt.Errorf("%d top-level elements", elements)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// charsetReader lets legacy catalogs declare a non UTF-8 encoding (ISO-8859-1 and
// friends). Saved catalogs are always UTF-8.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported catalog charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported catalog charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
