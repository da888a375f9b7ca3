package store

import (
	"context"
	"sync"
	"time"

	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/models"
)

const memoryBackend = "memory"

// MemoryStore keeps identities and messages in process memory.
// It is used for development and tests; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]models.Identity
	messages   []models.Message
	nextID     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[string]models.Identity)}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping only reports context cancellation.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// UpsertKey stores or overwrites the public key for an address.
func (s *MemoryStore) UpsertKey(ctx context.Context, address, publicKey string) error {
	defer observe(memoryBackend, "upsert_key", time.Now())

	addr := crypto.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.identities[addr]; ok && existing.PublicKey == publicKey {
		return nil
	}
	s.identities[addr] = models.Identity{
		Address:   addr,
		PublicKey: publicKey,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// LookupKey retrieves the identity registered for an address.
func (s *MemoryStore) LookupKey(ctx context.Context, address string) (*models.Identity, error) {
	defer observe(memoryBackend, "lookup_key", time.Now())

	s.mu.RLock()
	identity, ok := s.identities[crypto.NormalizeAddress(address)]
	s.mu.RUnlock()

	if !ok || identity.PublicKey == "" {
		return nil, ErrNotFound
	}
	return &identity, nil
}

// CountIdentities returns the number of registered addresses.
func (s *MemoryStore) CountIdentities(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.identities)), nil
}

// AppendMessage stores a message under the next sequence id.
func (s *MemoryStore) AppendMessage(ctx context.Context, sender, recipient, encryptedBody string, createdAt time.Time) (int64, error) {
	defer observe(memoryBackend, "append_message", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.messages = append(s.messages, models.Message{
		ID:            s.nextID,
		Sender:        crypto.NormalizeAddress(sender),
		Recipient:     crypto.NormalizeAddress(recipient),
		EncryptedBody: encryptedBody,
		CreatedAt:     createdAt.UTC(),
	})
	return s.nextID, nil
}

// ListByRecipient returns the inbox of an address, newest first.
func (s *MemoryStore) ListByRecipient(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(memoryBackend, "list_by_recipient", time.Now())

	addr := crypto.NormalizeAddress(address)
	return s.filter(func(m models.Message) bool { return m.Recipient == addr }), nil
}

// ListBySender returns the messages an address has sent, newest first.
func (s *MemoryStore) ListBySender(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(memoryBackend, "list_by_sender", time.Now())

	addr := crypto.NormalizeAddress(address)
	return s.filter(func(m models.Message) bool { return m.Sender == addr }), nil
}

func (s *MemoryStore) filter(keep func(models.Message) bool) []models.Message {
	s.mu.RLock()
	out := []models.Message{}
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// MessageStats returns the total message count and the latest timestamp.
func (s *MemoryStore) MessageStats(ctx context.Context) (int64, *time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *time.Time
	for i := range s.messages {
		if last == nil || s.messages[i].CreatedAt.After(*last) {
			t := s.messages[i].CreatedAt
			last = &t
		}
	}
	return int64(len(s.messages)), last, nil
}
