package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/relay"
	"github.com/whispernet/whispernet/internal/store"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	data    *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	data := store.NewMemoryStore()
	gate := auth.NewGate(auth.DefaultChallenge)
	svc := relay.NewService(data, data, gate)
	return &testServer{
		t:       t,
		handler: NewRouter(zerolog.Nop(), Deps{Service: svc, Gate: gate, Data: data}),
		data:    data,
	}
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
	sig     string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonalMessage(key, auth.DefaultChallenge)
	require.NoError(t, err)
	return wallet{key: key, address: crypto.AddressOf(key), sig: crypto.EncodeSignature(sig)}
}

func (s *testServer) do(method, path string, body interface{}, w *wallet) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w != nil {
		req.Header.Set(auth.HeaderAddress, w.address)
		req.Header.Set(auth.HeaderSignature, w.sig)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeInto(t, rec, &body)
	return body["error"]
}

func TestRoot(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "Encrypted Messaging API is running.", body["message"])
}

func TestRegisterAndLookupKeyAcrossCase(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/keys/register", map[string]string{"address": "0xAA", "public_key": "pk1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var registered map[string]string
	decodeInto(t, rec, &registered)
	assert.Equal(t, "Public key registered", registered["message"])

	rec = s.do(http.MethodGet, "/keys/0xaa", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var key map[string]string
	decodeInto(t, rec, &key)
	assert.Equal(t, "0xaa", key["address"])
	assert.Equal(t, "pk1", key["public_key"])

	s.do(http.MethodPost, "/keys/register", map[string]string{"address": "0xaA", "public_key": "pk2"}, nil)
	rec = s.do(http.MethodGet, "/keys/0xAA", nil, nil)
	decodeInto(t, rec, &key)
	assert.Equal(t, "pk2", key["public_key"])
}

func TestRegisterKeyValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/keys/register", map[string]string{"address": "0xaa"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing address or public_key", errorOf(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/keys/register", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	s.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestGetKeyNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/keys/0xdead", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Public key not found", errorOf(t, rec))
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	w := newWallet(t)

	rec := s.do(http.MethodPost, "/auth/login", map[string]string{
		"address":   "0x" + strings.ToUpper(w.address[2:]),
		"signature": w.sig,
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{
		"address":   w.address,
		"signature": w.sig,
		"message":   auth.DefaultChallenge,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool   `json:"success"`
		Address string `json:"address"`
	}
	decodeInto(t, rec, &body)
	assert.True(t, body.Success)
	assert.Equal(t, w.address, body.Address)

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{"address": w.address}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", errorOf(t, rec))

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{
		"address":   w.address,
		"signature": w.sig,
		"message":   "something else",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendWithoutCredentials(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/messages/send", map[string]string{"to": "0xbb", "encrypted_body": "c1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, errorOf(t, rec), "Authentication required")
}

func TestSendWithMismatchedAddress(t *testing.T) {
	s := newTestServer(t)
	w := newWallet(t)
	w.address = "0xcc"

	rec := s.do(http.MethodPost, "/messages/send", map[string]string{"to": "0xbb", "encrypted_body": "c1"}, &w)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Signature does not match address", errorOf(t, rec))
}

func TestSendAndReadInbox(t *testing.T) {
	s := newTestServer(t)
	alice := newWallet(t)
	bob := newWallet(t)

	rec := s.do(http.MethodPost, "/messages/send", map[string]string{
		"to":             strings.ToUpper(bob.address),
		"encrypted_body": "ciphertext",
	}, &alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sent struct {
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}
	decodeInto(t, rec, &sent)
	assert.Equal(t, "Message sent", sent.Message)
	assert.Positive(t, sent.ID)

	rec = s.do(http.MethodGet, "/messages/inbox", nil, &bob)
	require.Equal(t, http.StatusOK, rec.Code)

	var inbox []map[string]interface{}
	decodeInto(t, rec, &inbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, alice.address, inbox[0]["from"])
	assert.Equal(t, "ciphertext", inbox[0]["encrypted_body"])
	assert.EqualValues(t, sent.ID, inbox[0]["id"])

	ts, err := time.Parse(time.RFC3339Nano, inbox[0]["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	// the sender's inbox stays empty and encodes as an array
	rec = s.do(http.MethodGet, "/messages/inbox", nil, &alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSentNewestFirst(t *testing.T) {
	s := newTestServer(t)
	alice := newWallet(t)

	for _, body := range []string{"first", "second"} {
		rec := s.do(http.MethodPost, "/messages/send", map[string]string{"to": "0xbb", "encrypted_body": body}, &alice)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(http.MethodGet, "/messages/sent", nil, &alice)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]interface{}
	decodeInto(t, rec, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0]["encrypted_body"])
	assert.Equal(t, "first", out[1]["encrypted_body"])
	assert.Equal(t, "0xbb", out[0]["to"])
}

func TestSendValidation(t *testing.T) {
	s := newTestServer(t)
	alice := newWallet(t)

	rec := s.do(http.MethodPost, "/messages/send", map[string]string{"to": "0xbb"}, &alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Missing "to" or "encrypted_body"`, errorOf(t, rec))
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestServer(t)
	alice := newWallet(t)

	s.do(http.MethodPost, "/keys/register", map[string]string{"address": alice.address, "public_key": "pk"}, nil)
	s.do(http.MethodPost, "/messages/send", map[string]string{"to": "0xbb", "encrypted_body": "c"}, &alice)

	rec := s.do(http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	decodeInto(t, rec, &stats)
	assert.EqualValues(t, 1, stats["total_identities"])
	assert.EqualValues(t, 1, stats["total_messages"])
	assert.Equal(t, "just now", stats["last_activity"])

	rec = s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/keys/0xaa", nil, nil)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whispernet_http_requests_total")
}

func TestUnknownRelayRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodDelete, "/keys/0xaa", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func newRedisBackedServer(t *testing.T, trustedProxies ...string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	redisStore, err := store.NewRedisStore(t.Context(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { redisStore.Close() })

	data := store.NewMemoryStore()
	gate := auth.NewGate("")
	svc := relay.NewService(data, data, gate)
	return NewRouter(zerolog.Nop(), Deps{
		Service:        svc,
		Gate:           gate,
		Data:           data,
		Redis:          redisStore,
		TrustedProxies: trustedProxies,
	})
}

func TestRateLimitingWithRedis(t *testing.T) {
	handler := newRedisBackedServer(t)

	var last int
	for i := 0; i < 31; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.2.3.4:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
		if i == 0 {
			assert.Equal(t, "30", rec.Header().Get("X-RateLimit-Limit"))
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestForgedRequestsDoNotSpendVictimSendBudget(t *testing.T) {
	handler := newRedisBackedServer(t)
	victim := newWallet(t)

	for i := 0; i < 61; i++ {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(`{"to":"0xbb","encrypted_body":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.HeaderAddress, victim.address)
		req.Header.Set(auth.HeaderSignature, "0xdeadbeef")
		req.RemoteAddr = "6.6.6.6:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(`{"to":"0xbb","encrypted_body":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAddress, victim.address)
	req.Header.Set(auth.HeaderSignature, victim.sig)
	req.RemoteAddr = "1.2.3.4:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
}

func TestVerifiedWalletSendLimit(t *testing.T) {
	handler := newRedisBackedServer(t)
	alice := newWallet(t)

	var last int
	for i := 0; i < 61; i++ {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(`{"to":"0xbb","encrypted_body":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.HeaderAddress, alice.address)
		req.Header.Set(auth.HeaderSignature, alice.sig)
		req.RemoteAddr = fmt.Sprintf("10.3.0.%d:4000", i%200)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSpoofedForwardedForDoesNotResetLoginLimit(t *testing.T) {
	handler := newRedisBackedServer(t)

	var last int
	for i := 0; i < 31; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestTrustedProxyForwardedClientsAreCountedSeparately(t *testing.T) {
	handler := newRedisBackedServer(t, "10.0.0.1")

	for i := 0; i < 31; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
}
