package models

import "time"

// Message is a relayed payload. EncryptedBody is opaque to the server.
type Message struct {
	ID            int64     `json:"id"`
	Sender        string    `json:"from"`
	Recipient     string    `json:"to"`
	EncryptedBody string    `json:"encrypted_body"`
	CreatedAt     time.Time `json:"timestamp"`
}

// Stats summarizes relay usage.
type Stats struct {
	Identities    int64      `json:"identities"`
	Messages      int64      `json:"messages"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}
