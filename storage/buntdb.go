// Package storage persists tracked pair configuration and source cursors.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spyton/buybot/core"
	"github.com/tidwall/buntdb"
)

const (
	// PairIndexName orders pair listings by their last update.
	PairIndexName = "pair_update_index"

	pairPrefix   = "pair:"
	cursorPrefix = "cursor:"
)

// BuntStorage implements core.Storage using BuntDB: pairs as JSON
// documents, cursors as plain numeric values under composite keys.
type BuntStorage struct {
	db *buntdb.DB
}

// BuntConfig holds configuration options for BuntDB
type BuntConfig struct {
	// SyncPolicy determines how often data is synchronized to disk
	SyncPolicy buntdb.SyncPolicy
}

// DefaultBuntConfig returns the default configuration for BuntDB
func DefaultBuntConfig() BuntConfig {
	return BuntConfig{
		SyncPolicy: buntdb.EverySecond,
	}
}

// NewFromMemory creates an in-memory storage with default configuration
func NewFromMemory() (core.Storage, error) {
	return NewBuntStorage(":memory:", DefaultBuntConfig())
}

// NewFromFile creates a file-based storage with default configuration
func NewFromFile(file string) (core.Storage, error) {
	return NewBuntStorage(file, DefaultBuntConfig())
}

// NewBuntStorage creates a new BuntDB storage instance with the specified configuration
func NewBuntStorage(sourceFile string, config BuntConfig) (core.Storage, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy: config.SyncPolicy,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	if err := db.CreateIndex(PairIndexName, pairPrefix+"*", buntdb.IndexJSON("updated_at")); err != nil {
		return nil, fmt.Errorf("failed to create pair index: %w", err)
	}

	return &BuntStorage{db: db}, nil
}

// ---------------------
// PairStorage
// ---------------------

// SavePair stores or replaces a tracked pair document.
func (b *BuntStorage) SavePair(_ context.Context, pair *core.TrackedPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(pair)
		if err != nil {
			return fmt.Errorf("failed to marshal pair: %w", err)
		}

		_, _, err = tx.Set(pairPrefix+pair.ID, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store pair: %w", err)
		}

		return nil
	})
}

// Pair retrieves one tracked pair by id.
func (b *BuntStorage) Pair(_ context.Context, id string) (*core.TrackedPair, error) {
	var pair core.TrackedPair

	err := b.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(pairPrefix + id)
		if err == buntdb.ErrNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read pair: %w", err)
		}

		return json.Unmarshal([]byte(value), &pair)
	})
	if err != nil {
		return nil, err
	}

	return &pair, nil
}

// Pairs retrieves tracked pairs matching all provided filters, ordered by
// last update.
func (b *BuntStorage) Pairs(_ context.Context, filters ...core.PairFilter) ([]*core.TrackedPair, error) {
	pairs := make([]*core.TrackedPair, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(PairIndexName, func(key, value string) bool {
			var pair core.TrackedPair
			if err := json.Unmarshal([]byte(value), &pair); err != nil {
				// Continue iteration; one broken document must not hide the rest.
				return true
			}

			for _, filter := range filters {
				if !filter(pair) {
					return true
				}
			}

			pairs = append(pairs, &pair)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}

	return pairs, nil
}

// RemovePair deletes the pair document. Cursors are cleaned separately via
// ClearWatermarks.
func (b *BuntStorage) RemovePair(_ context.Context, id string) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(pairPrefix + id)
		if err == buntdb.ErrNotFound {
			return core.ErrNotFound
		}
		return err
	})
}

// ---------------------
// CursorStorage
// ---------------------

func cursorKey(pairID, source, pool string) string {
	return cursorPrefix + pairID + ":" + source + ":" + pool
}

// Watermark returns the stored cursor for a (pair, source, pool) unit.
func (b *BuntStorage) Watermark(_ context.Context, pairID, source, pool string) (uint64, bool, error) {
	var value uint64
	var exists bool

	err := b.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(cursorKey(pairID, source, pool))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt cursor %q: %w", raw, err)
		}

		value, exists = parsed, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return value, exists, nil
}

// AdvanceWatermark stores the cursor, refusing to move it backward.
func (b *BuntStorage) AdvanceWatermark(_ context.Context, pairID, source, pool string, value uint64) error {
	key := cursorKey(pairID, source, pool)

	return b.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err == nil {
			current, parseErr := strconv.ParseUint(raw, 10, 64)
			if parseErr == nil && value <= current {
				// Advancing is the only mutation a cursor supports.
				return nil
			}
		} else if err != buntdb.ErrNotFound {
			return err
		}

		_, _, err = tx.Set(key, strconv.FormatUint(value, 10), nil)
		return err
	})
}

// ClearWatermarks removes every cursor belonging to a pair, used when the
// pair is removed.
func (b *BuntStorage) ClearWatermarks(_ context.Context, pairID string) error {
	prefix := cursorPrefix + pairID + ":"

	return b.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.AscendKeys(cursorPrefix+"*", func(key, _ string) bool {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection
func (b *BuntStorage) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
