// SPDX-License-Identifier: MIT

// Package store persists the latest panel snapshot in badger so restarts can
// serve warm data before the first poll completes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/poller"
)

// Key layout:
// - snapshots: key = "snap:<serial>" (JSON)
// - boot pointer: key = "snap:current" (value=serial)
const (
	snapPrefix = "snap:"
	currentKey = snapPrefix + "current"
)

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	slog := xlog.WithComponent("store")
	slog.Info().
		Str("event", "store.opened").
		Str("path", path).
		Msg("snapshot store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutSnapshot stores snap under its serial and updates the boot pointer.
func (s *Store) PutSnapshot(_ context.Context, snap *poller.Snapshot) error {
	serial := snap.Serial()
	if serial == "" {
		return errors.New("snapshot has no panel serial")
	}
	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapPrefix+serial), buf); err != nil {
			return err
		}
		return txn.Set([]byte(currentKey), []byte(serial))
	})
}

// GetSnapshot returns the stored snapshot for serial, or (nil, nil) when none
// exists.
func (s *Store) GetSnapshot(_ context.Context, serial string) (*poller.Snapshot, error) {
	var out poller.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapPrefix + serial))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrent returns the snapshot the boot pointer names, or (nil, nil) when
// the store is empty. Used at startup before the panel serial is known.
func (s *Store) GetCurrent(ctx context.Context) (*poller.Snapshot, error) {
	var serial string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			serial = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetSnapshot(ctx, serial)
}
