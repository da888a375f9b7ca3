// Package whisper provides a client for the WhisperNet relay.
package whisper

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
)

// ErrNoKey is returned by protected calls when no wallet key is loaded.
var ErrNoKey = errors.New("no wallet key loaded")

// Client is a WhisperNet API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Challenge  string
	Key        *ecdsa.PrivateKey
	HTTPClient *http.Client

	signature string
}

// NewClient creates a new client and loads the wallet key from ConfigDir
// if one has been saved.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("WHISPERNET_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".whispernet")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		Challenge:  auth.DefaultChallenge,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadKey()
	return c
}

func (c *Client) keyFile() string {
	return filepath.Join(c.ConfigDir, "wallet.key")
}

// LoadKey loads the wallet key from disk.
func (c *Client) LoadKey() error {
	key, err := ethcrypto.LoadECDSA(c.keyFile())
	if err != nil {
		return err
	}
	c.SetKey(key)
	return nil
}

// SaveKey saves the wallet key to disk.
func (c *Client) SaveKey() error {
	if c.Key == nil {
		return ErrNoKey
	}
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	return ethcrypto.SaveECDSA(c.keyFile(), c.Key)
}

// GenerateKey creates a fresh wallet key.
func (c *Client) GenerateKey() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	c.SetKey(key)
	return nil
}

// SetKey switches the client to key and drops any cached signature.
func (c *Client) SetKey(key *ecdsa.PrivateKey) {
	c.Key = key
	c.signature = ""
}

// Address returns the wallet address of the loaded key.
func (c *Client) Address() string {
	if c.Key == nil {
		return ""
	}
	return crypto.AddressOf(c.Key)
}

// PublicKey returns the compressed secp256k1 public key as hex. It is the
// default value published through RegisterKey.
func (c *Client) PublicKey() string {
	if c.Key == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", ethcrypto.CompressPubkey(&c.Key.PublicKey))
}

// Signature signs the login challenge once and reuses the result.
func (c *Client) Signature() (string, error) {
	if c.Key == nil {
		return "", ErrNoKey
	}
	if c.signature != "" {
		return c.signature, nil
	}
	sig, err := crypto.SignPersonalMessage(c.Key, c.Challenge)
	if err != nil {
		return "", err
	}
	c.signature = crypto.EncodeSignature(sig)
	return c.signature, nil
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whispernet error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(method, path string, in, out interface{}, signed bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		sig, err := c.Signature()
		if err != nil {
			return err
		}
		req.Header.Set(auth.HeaderAddress, c.Address())
		req.Header.Set(auth.HeaderSignature, sig)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterKey publishes publicKey for the loaded wallet. An empty
// publicKey publishes PublicKey().
func (c *Client) RegisterKey(publicKey string) error {
	if c.Key == nil {
		return ErrNoKey
	}
	if publicKey == "" {
		publicKey = c.PublicKey()
	}
	req := map[string]string{"address": c.Address(), "public_key": publicKey}
	return c.doRequest(http.MethodPost, "/keys/register", req, nil, false)
}

// KeyInfo is the public key registered for an address.
type KeyInfo struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// GetKey fetches the public key registered for address.
func (c *Client) GetKey(address string) (*KeyInfo, error) {
	var resp KeyInfo
	if err := c.doRequest(http.MethodGet, "/keys/"+url.PathEscape(address), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginResponse is the result of a login check.
type LoginResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
}

// Login asks the relay to verify the cached signature.
func (c *Client) Login() (*LoginResponse, error) {
	sig, err := c.Signature()
	if err != nil {
		return nil, err
	}
	req := map[string]string{
		"address":   c.Address(),
		"signature": sig,
		"message":   c.Challenge,
	}

	var resp LoginResponse
	if err := c.doRequest(http.MethodPost, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// Send relays an already encrypted body to the wallet at to.
func (c *Client) Send(to, encryptedBody string) (*SendResponse, error) {
	req := map[string]string{"to": to, "encrypted_body": encryptedBody}

	var resp SendResponse
	if err := c.doRequest(http.MethodPost, "/messages/send", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message is an inbox or sent entry. From is set on inbox entries and To
// on sent entries.
type Message struct {
	ID            int64     `json:"id"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	EncryptedBody string    `json:"encrypted_body"`
	Timestamp     time.Time `json:"timestamp"`
}

// Inbox lists messages sent to the loaded wallet, newest first.
func (c *Client) Inbox() ([]Message, error) {
	var resp []Message
	if err := c.doRequest(http.MethodGet, "/messages/inbox", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sent lists messages the loaded wallet has sent, newest first.
func (c *Client) Sent() ([]Message, error) {
	var resp []Message
	if err := c.doRequest(http.MethodGet, "/messages/sent", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
