// Package store keeps a history of benchmark runs in BadgerDB. Runs expire
// automatically after DataTTL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/bench"
)

const (
	// TTL for benchmark data (30 days)
	DataTTL = 30 * 24 * time.Hour

	prefixRun = "run:"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("store: run not found")

// Store wraps BadgerDB with benchmark-specific operations.
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// Run is one stored benchmark run against one server.
type Run struct {
	ID        string                `json:"id"`
	Server    string                `json:"server"`
	URL       string                `json:"url"`
	Arch      string                `json:"arch"`
	StartedAt time.Time             `json:"started_at"`
	Config    bench.BenchmarkConfig `json:"config"`
	Result    bench.ServerResult    `json:"result"`
}

// New opens the store in dataDir. An empty dataDir keeps everything in
// memory.
func New(dataDir string, log logrus.FieldLogger) (*Store, error) {
	opts := badger.DefaultOptions(dataDir)
	if dataDir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil // Disable badger's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC reclaims value log space every interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.WithError(err).Warn("BadgerDB GC failed")
			}
		}
	}
}

// SaveRun stores run, assigning an ID and start time when missing.
func (s *Store) SaveRun(run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("store: new run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(prefixRun+run.ID), data).WithTTL(DataTTL)
		return txn.SetEntry(entry)
	})
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns stored runs newest first, optionally filtered by server.
// A limit of zero or less returns everything.
func (s *Store) ListRuns(server string, limit int) ([]*Run, error) {
	var runs []*Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				s.log.WithError(err).WithField("key", string(it.Item().Key())).Warn("Skipping unreadable run")
				continue
			}
			if server == "" || run.Server == server {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(runs, func(a, b *Run) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixRun + id))
	})
}
