package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketDocs    = "docs"
	bucketFields  = "fields"
	bucketHistory = "history"
)

var initDB = map[string]func(*bolt.Tx) error{
	"initialize document bucket": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketDocs))
		return err
	},
	"initialize field bucket": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketFields))
		return err
	},
	"initialize history bucket": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketHistory))
		return err
	},
}

// Bolt is a Store backed by a bbolt file, for single-node relays.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for name, fn := range initDB {
			if err := fn(tx); err != nil {
				return fmt.Errorf("failed to %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

// Load implements Store.
func (s *Bolt) Load(ctx context.Context, room string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		state := tx.Bucket([]byte(bucketDocs)).Get([]byte(room))
		if state == nil {
			return ErrNotFound
		}
		snap.State = append([]byte(nil), state...)
		if fields := tx.Bucket([]byte(bucketFields)).Get([]byte(room)); fields != nil {
			return json.Unmarshal(fields, &snap.Fields)
		}
		return nil
	})
	return snap, err
}

// Save implements Store.
func (s *Bolt) Save(ctx context.Context, room string, snap Snapshot, history []HistoryEntry) error {
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("save %s: %w", room, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketDocs)).Put([]byte(room), snap.State); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketFields)).Put([]byte(room), fields); err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}
		b, err := tx.Bucket([]byte(bucketHistory)).CreateBucketIfNotExists([]byte(room))
		if err != nil {
			return err
		}
		for _, h := range history {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			h.Room = room
			buf, err := json.Marshal(h)
			if err != nil {
				return err
			}
			if err := b.Put(marshalSeq(seq), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// History implements Store.
func (s *Bolt) History(ctx context.Context, room string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHistory)).Bucket([]byte(room))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var h HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			out = append(out, h)
			return nil
		})
	})
	return out, err
}

// Close implements Store.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
