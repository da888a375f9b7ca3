package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/models"
)

const sqliteBackend = "sqlite"

// SQLiteStore handles SQLite database operations.
// Timestamps are stored as unix microseconds so ordering is exact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/whispernet.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/whispernet.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection keeps appends serialized
	// instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		address TEXT PRIMARY KEY,
		public_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		encrypted_body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, created_at DESC, id DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertKey stores or overwrites the public key for an address.
func (s *SQLiteStore) UpsertKey(ctx context.Context, address, publicKey string) error {
	defer observe(sqliteBackend, "upsert_key", time.Now())

	now := time.Now().UnixMicro()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (address, public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			public_key = excluded.public_key,
			updated_at = excluded.updated_at
		WHERE identities.public_key != excluded.public_key
	`, crypto.NormalizeAddress(address), publicKey, now, now)
	if err != nil {
		return unavailable("upsert key", err)
	}
	return nil
}

// LookupKey retrieves the identity registered for an address.
func (s *SQLiteStore) LookupKey(ctx context.Context, address string) (*models.Identity, error) {
	defer observe(sqliteBackend, "lookup_key", time.Now())

	identity := &models.Identity{}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT address, public_key, updated_at
		FROM identities WHERE address = ?
	`, crypto.NormalizeAddress(address)).Scan(
		&identity.Address,
		&identity.PublicKey,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("lookup key", err)
	}
	if identity.PublicKey == "" {
		return nil, ErrNotFound
	}
	identity.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return identity, nil
}

// CountIdentities returns the number of registered addresses.
func (s *SQLiteStore) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, unavailable("count identities", err)
	}
	return count, nil
}

// AppendMessage inserts a message and returns its row id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sender, recipient, encryptedBody string, createdAt time.Time) (int64, error) {
	defer observe(sqliteBackend, "append_message", time.Now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender, recipient, encrypted_body, created_at)
		VALUES (?, ?, ?, ?)
	`, crypto.NormalizeAddress(sender), crypto.NormalizeAddress(recipient), encryptedBody, createdAt.UnixMicro())
	if err != nil {
		return 0, unavailable("append message", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("append message", err)
	}
	return id, nil
}

// ListByRecipient returns the inbox of an address, newest first.
func (s *SQLiteStore) ListByRecipient(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(sqliteBackend, "list_by_recipient", time.Now())

	return s.listMessages(ctx, `
		SELECT id, sender, recipient, encrypted_body, created_at
		FROM messages
		WHERE recipient = ?
		ORDER BY created_at DESC, id DESC
	`, address)
}

// ListBySender returns the messages an address has sent, newest first.
func (s *SQLiteStore) ListBySender(ctx context.Context, address string) ([]models.Message, error) {
	defer observe(sqliteBackend, "list_by_sender", time.Now())

	return s.listMessages(ctx, `
		SELECT id, sender, recipient, encrypted_body, created_at
		FROM messages
		WHERE sender = ?
		ORDER BY created_at DESC, id DESC
	`, address)
}

func (s *SQLiteStore) listMessages(ctx context.Context, query, address string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, crypto.NormalizeAddress(address))
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var createdAt int64
		if err := rows.Scan(
			&msg.ID,
			&msg.Sender,
			&msg.Recipient,
			&msg.EncryptedBody,
			&createdAt,
		); err != nil {
			return nil, unavailable("scan message", err)
		}
		msg.CreatedAt = time.UnixMicro(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}

	return messages, nil
}

// MessageStats returns the total message count and the latest timestamp.
func (s *SQLiteStore) MessageStats(ctx context.Context) (int64, *time.Time, error) {
	var count int64
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(created_at) FROM messages`).Scan(&count, &last)
	if err != nil {
		return 0, nil, unavailable("message stats", err)
	}
	if !last.Valid {
		return count, nil, nil
	}
	t := time.UnixMicro(last.Int64).UTC()
	return count, &t, nil
}
