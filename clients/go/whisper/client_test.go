package whisper

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whispernet/whispernet/internal/api"
	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/relay"
	"github.com/whispernet/whispernet/internal/store"
)

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	data := store.NewMemoryStore()
	gate := auth.NewGate(auth.DefaultChallenge)
	svc := relay.NewService(data, data, gate)
	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), api.Deps{Service: svc, Gate: gate, Data: data}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	t.Setenv("WHISPERNET_CONFIG", t.TempDir())
	c := NewClient(baseURL)
	require.NoError(t, c.GenerateKey())
	return c
}

func TestClientRoundTrip(t *testing.T) {
	srv := newRelay(t)
	alice := newTestClient(t, srv.URL)
	bob := newTestClient(t, srv.URL)

	require.NoError(t, bob.RegisterKey(""))

	info, err := alice.GetKey(bob.Address())
	require.NoError(t, err)
	assert.Equal(t, bob.PublicKey(), info.PublicKey)

	login, err := alice.Login()
	require.NoError(t, err)
	assert.True(t, login.Success)
	assert.Equal(t, alice.Address(), login.Address)

	sent, err := alice.Send(bob.Address(), "ciphertext-1")
	require.NoError(t, err)
	assert.Equal(t, "Message sent", sent.Message)

	_, err = alice.Send(bob.Address(), "ciphertext-2")
	require.NoError(t, err)

	inbox, err := bob.Inbox()
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "ciphertext-2", inbox[0].EncryptedBody)
	assert.Equal(t, alice.Address(), inbox[0].From)
	assert.False(t, inbox[0].Timestamp.IsZero())

	outbox, err := alice.Sent()
	require.NoError(t, err)
	require.Len(t, outbox, 2)
	assert.Equal(t, bob.Address(), outbox[1].To)
	assert.Greater(t, outbox[0].ID, outbox[1].ID)
}

func TestClientErrors(t *testing.T) {
	srv := newRelay(t)
	c := newTestClient(t, srv.URL)

	_, err := c.GetKey("0xmissing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Public key not found", apiErr.Message)

	_, err = c.Send("", "body")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	// a signature over another challenge is rejected
	other := newTestClient(t, srv.URL)
	other.Challenge = "something else"
	_, err = other.Inbox()
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientWithoutKey(t *testing.T) {
	t.Setenv("WHISPERNET_CONFIG", t.TempDir())
	c := NewClient("http://127.0.0.1:0")
	assert.Nil(t, c.Key)

	_, err := c.Inbox()
	assert.ErrorIs(t, err, ErrNoKey)
	assert.ErrorIs(t, c.RegisterKey("pk"), ErrNoKey)
	assert.ErrorIs(t, c.SaveKey(), ErrNoKey)
}

func TestSaveAndLoadKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WHISPERNET_CONFIG", dir)

	c := NewClient("")
	require.NoError(t, c.GenerateKey())
	require.NoError(t, c.SaveKey())

	reloaded := NewClient("")
	require.NotNil(t, reloaded.Key)
	assert.Equal(t, c.Address(), reloaded.Address())
}

func TestSignatureIsCached(t *testing.T) {
	t.Setenv("WHISPERNET_CONFIG", t.TempDir())
	c := NewClient("")
	require.NoError(t, c.GenerateKey())

	first, err := c.Signature()
	require.NoError(t, err)
	second, err := c.Signature()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	before := c.Address()
	require.NoError(t, c.GenerateKey())
	third, err := c.Signature()
	require.NoError(t, err)
	assert.NotEqual(t, before, c.Address())
	assert.NotEqual(t, first, third)
}
