package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/whispernet/whispernet/internal/metrics"
	"github.com/whispernet/whispernet/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Directory is the address to public key mapping.
// Addresses are normalized to lowercase by every implementation.
type Directory interface {
	// UpsertKey stores publicKey for address, replacing any previous key.
	UpsertKey(ctx context.Context, address, publicKey string) error
	// LookupKey returns ErrNotFound when no key, or an empty key, is stored.
	LookupKey(ctx context.Context, address string) (*models.Identity, error)
	CountIdentities(ctx context.Context) (int64, error)
}

// MessageLog is the append-only relay log.
type MessageLog interface {
	// AppendMessage assigns a strictly increasing id. A failed append leaves
	// no visible message behind.
	AppendMessage(ctx context.Context, sender, recipient, encryptedBody string, createdAt time.Time) (int64, error)
	// ListByRecipient and ListBySender return newest first, ordered by
	// created_at then id, both descending.
	ListByRecipient(ctx context.Context, address string) ([]models.Message, error)
	ListBySender(ctx context.Context, address string) ([]models.Message, error)
	MessageStats(ctx context.Context) (count int64, last *time.Time, err error)
}

// DataStore is a backend that holds both the directory and the message log.
// PostgresStore, SQLiteStore and MemoryStore implement it.
type DataStore interface {
	Directory
	MessageLog

	Close()
	Ping(ctx context.Context) error
}

// unavailable wraps a persistence failure so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// observe records how long a store operation took.
func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// sortNewestFirst orders messages by created_at then id, both descending.
func sortNewestFirst(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}
