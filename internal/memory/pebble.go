// ABOUTME: Pebble implementation of the conversation-memory Store
// ABOUTME: One JSON value per memory id, synchronous writes, full overwrite

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "memory:"

// PebbleStore implements Store on a Pebble key/value database.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// NewPebbleStore opens (or creates) a Pebble database at the given path.
func NewPebbleStore(path string, logger *slog.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	logger = logger.With("component", "memory-store")
	logger.Info("memory store opened", "path", path)
	return &PebbleStore{db: db, logger: logger}, nil
}

// Load returns the memory stored under the given id, or ErrNotFound.
func (s *PebbleStore) Load(ctx context.Context, memoryID string) (*ConversationMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, closer, err := s.db.Get([]byte(keyPrefix + memoryID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading memory %s: %w", memoryID, err)
	}
	defer closer.Close()

	var m ConversationMemory
	if err := json.Unmarshal(value, &m); err != nil {
		return nil, fmt.Errorf("decoding memory %s: %w", memoryID, err)
	}
	return &m, nil
}

// Save overwrites the memory stored under the given id.
func (s *PebbleStore) Save(ctx context.Context, memoryID string, m *ConversationMemory) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.MemoryID = memoryID
	m.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding memory %s: %w", memoryID, err)
	}
	if err := s.db.Set([]byte(keyPrefix+memoryID), data, pebble.Sync); err != nil {
		return fmt.Errorf("saving memory %s: %w", memoryID, err)
	}

	s.logger.Debug("memory saved",
		"memory_id", memoryID,
		"messages", len(m.ChatLog),
		"cumulative_cost", m.CumulativeCost,
	)
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
