// Package store defines the version record and the record store contract the
// chain engine is built on, plus a thread-safe in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Update for an unknown record id.
var ErrNotFound = errors.New("store: record not found")

// VersionRecord is one version of a key's value. Value is nil when the key is unset.
// Previous and Next hold record ids and are empty at the ends of a chain.
type VersionRecord struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Name      string    `json:"name"`
	Value     *string   `json:"value,omitempty"`
	Active    bool      `json:"active"`
	Previous  string    `json:"previous,omitempty"`
	Next      string    `json:"next,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasValue reports whether the record holds a value (is not an unset marker).
func (r VersionRecord) HasValue() bool {
	return r.Value != nil
}

// Before reports whether r sorts before o in creation order, breaking seq ties by id.
func (r VersionRecord) Before(o VersionRecord) bool {
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}
	return r.ID < o.ID
}

// Changes is a partial update. Nil fields are left untouched.
type Changes struct {
	Active *bool
	Next   *string
}

// Apply returns a copy of r with the changes applied.
func (c Changes) Apply(r VersionRecord) VersionRecord {
	if c.Active != nil {
		r.Active = *c.Active
	}
	if c.Next != nil {
		r.Next = *c.Next
	}
	return r
}

// SetActive builds a Changes flipping only the active flag.
func SetActive(active bool) Changes {
	return Changes{Active: &active}
}

// Filter narrows a Scan. Nil fields do not constrain the result; a zero Limit means no limit.
type Filter struct {
	Name   *string
	Active *bool
	Value  *string
	Limit  int
}

// Match reports whether r satisfies every constraint of the filter.
func (f Filter) Match(r VersionRecord) bool {
	if f.Name != nil && r.Name != *f.Name {
		return false
	}
	if f.Active != nil && r.Active != *f.Active {
		return false
	}
	if f.Value != nil && (r.Value == nil || *r.Value != *f.Value) {
		return false
	}
	return true
}

// Tx is the view of the store inside a Batch.
type Tx interface {
	Insert(rec VersionRecord) (VersionRecord, error)
	Get(id string) (VersionRecord, error)
	Update(id string, c Changes) error
}

// Store is the durable collection of version records.
// Insert assigns ID, Seq and CreatedAt; Seq is strictly increasing per store.
// Scan results are ordered newest first by (Seq, ID).
type Store interface {
	Insert(ctx context.Context, rec VersionRecord) (VersionRecord, error)
	Get(ctx context.Context, id string) (VersionRecord, error)
	Update(ctx context.Context, id string, c Changes) error
	Scan(ctx context.Context, f Filter) ([]VersionRecord, error)
	DeleteAll(ctx context.Context) error
	// Batch runs fn atomically: either all of its writes become visible or none do.
	Batch(ctx context.Context, fn func(tx Tx) error) error
}

// Importer is implemented by stores that can load records verbatim, keeping ids and seqs.
type Importer interface {
	Import(ctx context.Context, recs []VersionRecord) error
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
