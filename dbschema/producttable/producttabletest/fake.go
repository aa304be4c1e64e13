// Package producttabletest provides an in-memory product table with failure
// injection for tests of code that talks to the relational store.
package producttabletest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/stokaro/catalogsync/core/product"
	"github.com/stokaro/catalogsync/dbschema/producttable"
)

// ErrOutage is a ready-made error for simulating an unavailable database.
var ErrOutage = errors.New("simulated database outage")

// Fake is an in-memory product table. The zero value is not usable, use New.
//
// The exported error fields make the matching call fail without touching the
// stored rows. The On* hooks run before the corresponding call and may be used
// to change the fake's behavior mid-operation.
type Fake struct {
	mu     sync.Mutex
	rows   map[int64]product.Record
	nextID int64

	InsertErr error
	UpdateErr error
	DeleteErr error
	GetErr    error
	FindErr   error

	// IgnoreDeletes makes Delete report zero affected rows without removing anything.
	IgnoreDeletes bool

	OnInsert func(rec product.Record)
	OnUpdate func(rec product.Record)
	OnDelete func(id int64)

	calls []string
}

// New returns an empty fake whose first generated identifier is 1.
func New() *Fake {
	return &Fake{
		rows:   make(map[int64]product.Record),
		nextID: 1,
	}
}

// SetNextID sets the identifier the next Insert will generate.
func (f *Fake) SetNextID(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = id
}

// Put stores rec as is, bypassing identifier generation.
func (f *Fake) Put(rec product.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rec.ID] = rec
	if rec.ID >= f.nextID {
		f.nextID = rec.ID + 1
	}
}

// Rows returns a snapshot of the stored rows ordered by identifier.
func (f *Fake) Rows() []product.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]product.Record, 0, len(f.rows))
	for _, rec := range f.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Calls returns the names of the table methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Insert(_ context.Context, rec product.Record) (int64, error) {
	if f.OnInsert != nil {
		f.OnInsert(rec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert")
	if f.InsertErr != nil {
		return 0, f.InsertErr
	}
	rec.ID = f.nextID
	f.nextID++
	f.rows[rec.ID] = rec
	return rec.ID, nil
}

func (f *Fake) Update(_ context.Context, rec product.Record) (int64, error) {
	if f.OnUpdate != nil {
		f.OnUpdate(rec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update")
	if f.UpdateErr != nil {
		return 0, f.UpdateErr
	}
	if _, ok := f.rows[rec.ID]; !ok {
		return 0, nil
	}
	f.rows[rec.ID] = rec
	return 1, nil
}

func (f *Fake) Delete(_ context.Context, id int64) (int64, error) {
	if f.OnDelete != nil {
		f.OnDelete(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	if f.DeleteErr != nil {
		return 0, f.DeleteErr
	}
	if _, ok := f.rows[id]; !ok || f.IgnoreDeletes {
		return 0, nil
	}
	delete(f.rows, id)
	return 1, nil
}

func (f *Fake) Get(_ context.Context, id int64) (product.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get")
	if f.GetErr != nil {
		return product.Record{}, false, f.GetErr
	}
	rec, ok := f.rows[id]
	return rec, ok, nil
}

func (f *Fake) Find(_ context.Context, filter producttable.Filter) ([]product.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "find")
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	var out []product.Record
	for _, rec := range f.rows {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
