// Package relay implements key registration and message relaying on top of
// the identity directory and the message log. It holds no state of its own.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/metrics"
	"github.com/whispernet/whispernet/internal/models"
	"github.com/whispernet/whispernet/internal/store"
)

// ErrBadRequest marks missing or malformed caller input.
var ErrBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}

// Service is the relay core. It is safe for concurrent use.
type Service struct {
	keys     store.Directory
	messages store.MessageLog
	gate     *auth.Gate
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the relay to its stores and auth gate.
func NewService(keys store.Directory, messages store.MessageLog, gate *auth.Gate, opts ...Option) *Service {
	s := &Service{
		keys:     keys,
		messages: messages,
		gate:     gate,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterKey stores publicKey under address, replacing any previous key.
func (s *Service) RegisterKey(ctx context.Context, address, publicKey string) error {
	address = strings.TrimSpace(address)
	if address == "" || publicKey == "" {
		return badRequest("Missing address or public_key")
	}

	if err := s.keys.UpsertKey(ctx, address, publicKey); err != nil {
		return err
	}

	metrics.KeysRegistered.Inc()
	s.logger.Debug().Str("address", crypto.NormalizeAddress(address)).Msg("public key registered")
	return nil
}

// GetKey returns the identity registered for address or store.ErrNotFound.
func (s *Service) GetKey(ctx context.Context, address string) (*models.Identity, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, badRequest("Missing address")
	}
	return s.keys.LookupKey(ctx, address)
}

// LoginRequest is a one-shot proof of key possession.
// Message, when present, must be the deployment challenge.
type LoginRequest struct {
	Address   string
	Signature string
	Message   string
}

// Login verifies that the signature over the challenge recovers to address.
// No session is created.
func (s *Service) Login(ctx context.Context, req LoginRequest) (auth.Caller, error) {
	if strings.TrimSpace(req.Address) == "" || strings.TrimSpace(req.Signature) == "" {
		return auth.Caller{}, badRequest("Missing required fields")
	}
	if req.Message != "" && req.Message != s.gate.Challenge() {
		return auth.Caller{}, badRequest("message does not match the login challenge")
	}

	caller, err := s.gate.Verify(req.Address, req.Signature)
	if err != nil {
		metrics.Logins.WithLabelValues("rejected").Inc()
		return auth.Caller{}, err
	}

	metrics.Logins.WithLabelValues("ok").Inc()
	return caller, nil
}

// SendMessage appends a message from caller to recipient.
func (s *Service) SendMessage(ctx context.Context, caller auth.Caller, recipient, encryptedBody string) (int64, error) {
	if caller.Address == "" {
		return 0, auth.ErrAuthRequired
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || encryptedBody == "" {
		return 0, badRequest(`Missing "to" or "encrypted_body"`)
	}

	// Stored at microsecond precision so every backend orders identically.
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	id, err := s.messages.AppendMessage(ctx, caller.Address, recipient, encryptedBody, createdAt)
	if err != nil {
		return 0, err
	}

	metrics.MessagesSent.Inc()
	s.logger.Debug().
		Int64("id", id).
		Str("from", caller.Address).
		Str("to", crypto.NormalizeAddress(recipient)).
		Msg("message stored")
	return id, nil
}

// ListInbox returns messages addressed to caller, newest first.
func (s *Service) ListInbox(ctx context.Context, caller auth.Caller) ([]models.Message, error) {
	if caller.Address == "" {
		return nil, auth.ErrAuthRequired
	}
	return s.messages.ListByRecipient(ctx, caller.Address)
}

// ListSent returns messages caller has sent, newest first.
func (s *Service) ListSent(ctx context.Context, caller auth.Caller) ([]models.Message, error) {
	if caller.Address == "" {
		return nil, auth.ErrAuthRequired
	}
	return s.messages.ListBySender(ctx, caller.Address)
}

// Stats reports identity and message totals.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	identities, err := s.keys.CountIdentities(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	count, last, err := s.messages.MessageStats(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	return models.Stats{Identities: identities, Messages: count, LastMessageAt: last}, nil
}
