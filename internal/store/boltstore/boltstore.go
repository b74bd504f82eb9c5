// Package boltstore is a durable store.Store kept in a single bolt file.
package boltstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/ASHISH26940/chaindb/internal/store"
)

var (
	recordsBucket = []byte("records")
	metaBucket    = []byte("meta")
)

// diskRecord is the msgpack layout of a record.
type diskRecord struct {
	ID        string `codec:"id"`
	Seq       uint64 `codec:"seq"`
	Name      string `codec:"name"`
	HasValue  bool   `codec:"has_value"`
	Value     string `codec:"value"`
	Active    bool   `codec:"active"`
	Previous  string `codec:"prev"`
	Next      string `codec:"next"`
	CreatedAt int64  `codec:"created_at"`
}

// Store is a store.Store backed by bolt.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bolt file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the bolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(_ context.Context, rec store.VersionRecord) (store.VersionRecord, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, err = (&boltTx{tx: tx}).Insert(rec)
		return err
	})
	return rec, err
}

func (s *Store) Get(_ context.Context, id string) (store.VersionRecord, error) {
	var rec store.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = (&boltTx{tx: tx}).Get(id)
		return err
	})
	return rec, err
}

func (s *Store) Update(_ context.Context, id string, c store.Changes) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return (&boltTx{tx: tx}).Update(id, c)
	})
}

// Scan walks every record; the bucket is keyed by id so filtering happens in memory.
func (s *Store) Scan(_ context.Context, f store.Filter) ([]store.VersionRecord, error) {
	out := make([]store.VersionRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if f.Match(rec) {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteAll drops the records bucket. The sequence lives in the meta bucket and survives.
func (s *Store) DeleteAll(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(recordsBucket)
		return err
	})
}

// Batch runs fn inside one bolt read-write transaction.
func (s *Store) Batch(_ context.Context, fn func(tx store.Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Import writes records verbatim and advances the sequence past the highest imported seq.
func (s *Store) Import(_ context.Context, recs []store.VersionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		meta := tx.Bucket(metaBucket)
		for _, rec := range recs {
			data, err := encode(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.ID), data); err != nil {
				return err
			}
			if rec.Seq > meta.Sequence() {
				if err := meta.SetSequence(rec.Seq); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Insert(rec store.VersionRecord) (store.VersionRecord, error) {
	seq, err := t.tx.Bucket(metaBucket).NextSequence()
	if err != nil {
		return store.VersionRecord{}, err
	}
	rec.ID = uuid.NewString()
	rec.Seq = seq
	rec.CreatedAt = time.Now()
	return rec, t.put(rec)
}

func (t *boltTx) Get(id string) (store.VersionRecord, error) {
	v := t.tx.Bucket(recordsBucket).Get([]byte(id))
	if v == nil {
		return store.VersionRecord{}, store.ErrNotFound
	}
	return decode(v)
}

func (t *boltTx) Update(id string, c store.Changes) error {
	rec, err := t.Get(id)
	if err != nil {
		return err
	}
	return t.put(c.Apply(rec))
}

func (t *boltTx) put(rec store.VersionRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return t.tx.Bucket(recordsBucket).Put([]byte(rec.ID), data)
}

func encode(rec store.VersionRecord) ([]byte, error) {
	d := diskRecord{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Name:      rec.Name,
		Active:    rec.Active,
		Previous:  rec.Previous,
		Next:      rec.Next,
		CreatedAt: rec.CreatedAt.UnixNano(),
	}
	if rec.Value != nil {
		d.HasValue = true
		d.Value = *rec.Value
	}
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, &codec.MsgpackHandle{}).Encode(d); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return buf, nil
}

func decode(data []byte) (store.VersionRecord, error) {
	var d diskRecord
	if err := codec.NewDecoderBytes(data, &codec.MsgpackHandle{}).Decode(&d); err != nil {
		return store.VersionRecord{}, fmt.Errorf("decode record: %w", err)
	}
	rec := store.VersionRecord{
		ID:        d.ID,
		Seq:       d.Seq,
		Name:      d.Name,
		Active:    d.Active,
		Previous:  d.Previous,
		Next:      d.Next,
		CreatedAt: time.Unix(0, d.CreatedAt),
	}
	if d.HasValue {
		v := d.Value
		rec.Value = &v
	}
	return rec, nil
}
