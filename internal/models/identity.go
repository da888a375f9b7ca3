package models

import "time"

// Identity maps a wallet address to the public key its owner registered.
type Identity struct {
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	UpdatedAt time.Time `json:"updated_at"`
}
