package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory record store.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  uint64
	data map[string]VersionRecord
	now  func() time.Time
}

// NewMemoryStore initializes and returns a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]VersionRecord),
		now:  time.Now,
	}
}

// Insert stores a new record, assigning its id and sequence number.
func (s *MemoryStore) Insert(_ context.Context, rec VersionRecord) (VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(s.data, rec), nil
}

func (s *MemoryStore) insertLocked(dst map[string]VersionRecord, rec VersionRecord) VersionRecord {
	s.seq++
	rec.ID = uuid.NewString()
	rec.Seq = s.seq
	rec.CreatedAt = s.now()
	dst[rec.ID] = rec
	return rec
}

// Get returns the record with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok {
		return VersionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Update applies a partial update to an existing record.
func (s *MemoryStore) Update(_ context.Context, id string, c Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	s.data[id] = c.Apply(rec)
	return nil
}

// Scan returns the records matching f, newest first.
func (s *MemoryStore) Scan(_ context.Context, f Filter) ([]VersionRecord, error) {
	s.mu.RLock()
	out := make([]VersionRecord, 0)
	for _, rec := range s.data {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteAll removes every record. The sequence keeps counting so seqs are never reused.
func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]VersionRecord)
	return nil
}

// Batch stages the writes of fn and publishes them under a single lock hold.
func (s *MemoryStore) Batch(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]VersionRecord)}
	seq := s.seq
	if err := fn(tx); err != nil {
		s.seq = seq
		return err
	}
	for id, rec := range tx.staged {
		s.data[id] = rec
	}
	return nil
}

// Import loads records verbatim, replacing any record with the same id.
func (s *MemoryStore) Import(_ context.Context, recs []VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.data[rec.ID] = rec
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string]VersionRecord
}

func (t *memoryTx) Insert(rec VersionRecord) (VersionRecord, error) {
	return t.store.insertLocked(t.staged, rec), nil
}

func (t *memoryTx) Get(id string) (VersionRecord, error) {
	if rec, ok := t.staged[id]; ok {
		return rec, nil
	}
	rec, ok := t.store.data[id]
	if !ok {
		return VersionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (t *memoryTx) Update(id string, c Changes) error {
	rec, err := t.Get(id)
	if err != nil {
		return err
	}
	t.staged[id] = c.Apply(rec)
	return nil
}
