// Package storage persists the outcome of the most recent prediction run.
// It keeps a single snapshot in BoltDB, overwritten on every run, and writes
// the canonical results CSV consumed by downstream tools.
//
// Only the latest run is retained; there is no prediction history.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dbFile     = "delaydemo.db"
	runsBucket = "runs"   // Bucket holding the latest run snapshot
	latestKey  = "latest" // Single key, overwritten on each run
)

// ErrNoRun is returned by Latest before any run has been stored.
var ErrNoRun = errors.New("no run stored")

// Store provides persistent storage for run snapshots using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures the runs
// bucket exists.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutLatest replaces the stored snapshot with rec.
func (s *Store) PutLatest(rec RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return b.Put([]byte(latestKey), data)
	})
}

// Latest returns the stored snapshot, or ErrNoRun.
func (s *Store) Latest() (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(latestKey))
		if data == nil {
			return ErrNoRun
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
