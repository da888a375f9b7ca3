package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/models"
)

const postgresBackend = "postgres"

// postgresSchema is applied statement by statement on startup.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		address    TEXT PRIMARY KEY,
		public_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id             BIGSERIAL PRIMARY KEY,
		sender         TEXT NOT NULL,
		recipient      TEXT NOT NULL,
		encrypted_body TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages (recipient, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender, created_at DESC, id DESC)`,
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertKey stores or overwrites the public key for an address.
func (s *PostgresStore) UpsertKey(ctx context.Context, address, publicKey string) error {
	defer observe(postgresBackend, "upsert_key", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (address, public_key)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			updated_at = NOW()
		WHERE identities.public_key IS DISTINCT FROM EXCLUDED.public_key
	`, crypto.NormalizeAddress(address), publicKey)
	if err != nil {
		return unavailable("upsert key", err)
	}
	return nil
}

// LookupKey retrieves the identity registered for an address.
func (s *PostgresStore) LookupKey(ctx context.Context, address string) (*models.Identity, error) {
	defer observe(postgresBackend, "lookup_key", time.Now())

	identity := &models.Identity{}
	err := s.pool.QueryRow(ctx, `
		SELECT address, public_key, updated_at
		FROM identities WHERE address = $1
	`, crypto.NormalizeAddress(address)).Scan(
		&identity.Address,
		&identity.PublicKey,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("lookup key", err)
	}
	if identity.PublicKey == "" {
		return nil, ErrNotFound
	}
	return identity, nil
}

// CountIdentities returns the number of registered addresses.
func (s *PostgresStore) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, unavailable("count identities", err)
	}
	return count, nil
}

// AppendMessage inserts a message and returns its sequence id.
func (s *PostgresStore) AppendMessage(ctx context.Context, sender, recipient, encryptedBody string, createdAt time.Time) (int64, error) {
	defer observe(postgresBackend, "append_message", time.Now())

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender, recipient, encrypted_body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, crypto.NormalizeAddress(sender), crypto.NormalizeAddress(recipient), encryptedBody, createdAt.UTC()).Scan(&id)
	if err != nil {
		return 0, unavailable("append message", err)
	}
	return id, nil
}

// ListByRecipient returns the inbox of an address, newest first.
func (s *PostgresStore) ListByRecipient(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(postgresBackend, "list_by_recipient", time.Now())

	return s.listMessages(ctx, `
		SELECT id, sender, recipient, encrypted_body, created_at
		FROM messages
		WHERE recipient = $1
		ORDER BY created_at DESC, id DESC
	`, address)
}

// ListBySender returns the messages an address has sent, newest first.
func (s *PostgresStore) ListBySender(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(postgresBackend, "list_by_sender", time.Now())

	return s.listMessages(ctx, `
		SELECT id, sender, recipient, encrypted_body, created_at
		FROM messages
		WHERE sender = $1
		ORDER BY created_at DESC, id DESC
	`, address)
}

func (s *PostgresStore) listMessages(ctx context.Context, query, address string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, query, crypto.NormalizeAddress(address))
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Sender,
			&msg.Recipient,
			&msg.EncryptedBody,
			&msg.CreatedAt,
		); err != nil {
			return nil, unavailable("scan message", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}

	return messages, nil
}

// MessageStats returns the total message count and the latest timestamp.
func (s *PostgresStore) MessageStats(ctx context.Context) (int64, *time.Time, error) {
	var count int64
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), MAX(created_at) FROM messages`).Scan(&count, &last)
	if err != nil {
		return 0, nil, unavailable("message stats", err)
	}
	return count, last, nil
}
