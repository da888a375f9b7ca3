package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/models"
	"github.com/whispernet/whispernet/internal/store"
)

// stepClock returns base, base+1s, base+2s, ...
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

func newTestService(t *testing.T) (*Service, *auth.Gate) {
	t.Helper()
	mem := store.NewMemoryStore()
	gate := auth.NewGate(auth.DefaultChallenge)
	clock := &stepClock{next: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewService(mem, mem, gate, WithClock(clock.Now)), gate
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonalMessage(key, auth.DefaultChallenge)
	require.NoError(t, err)
	return key, crypto.EncodeSignature(sig)
}

func TestRegisterAndGetKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterKey(ctx, "0xAA", "pk1"))

	identity, err := svc.GetKey(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, "0xaa", identity.Address)
	assert.Equal(t, "pk1", identity.PublicKey)

	require.NoError(t, svc.RegisterKey(ctx, "0xaA", "pk2"))
	identity, err = svc.GetKey(ctx, "0xAA")
	require.NoError(t, err)
	assert.Equal(t, "pk2", identity.PublicKey)
}

func TestRegisterKeyValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RegisterKey(ctx, "", "pk"), ErrBadRequest)
	assert.ErrorIs(t, svc.RegisterKey(ctx, "0xaa", ""), ErrBadRequest)
	assert.ErrorIs(t, svc.RegisterKey(ctx, "   ", "pk"), ErrBadRequest)
}

func TestGetKeyNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetKey(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key, sig := newWallet(t)
	addr := crypto.AddressOf(key)

	caller, err := svc.Login(ctx, LoginRequest{Address: addr, Signature: sig, Message: auth.DefaultChallenge})
	require.NoError(t, err)
	assert.Equal(t, addr, caller.Address)

	// message is optional
	_, err = svc.Login(ctx, LoginRequest{Address: addr, Signature: sig})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Address: addr})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Login(ctx, LoginRequest{Address: addr, Signature: sig, Message: "something else"})
	assert.ErrorIs(t, err, ErrBadRequest)

	other, _ := newWallet(t)
	_, err = svc.Login(ctx, LoginRequest{Address: crypto.AddressOf(other), Signature: sig})
	assert.ErrorIs(t, err, auth.ErrAddressMismatch)

	_, err = svc.Login(ctx, LoginRequest{Address: addr, Signature: "0xdeadbeef"})
	assert.ErrorIs(t, err, crypto.ErrInvalidSignature)
}

func TestSendAndListInbox(t *testing.T) {
	svc, gate := newTestService(t)
	ctx := context.Background()

	senderKey, senderSig := newWallet(t)
	sender, err := gate.Authenticate(auth.Credentials{Address: crypto.AddressOf(senderKey), Signature: senderSig})
	require.NoError(t, err)

	recipientKey, recipientSig := newWallet(t)
	recipient, err := gate.Authenticate(auth.Credentials{Address: crypto.AddressOf(recipientKey), Signature: recipientSig})
	require.NoError(t, err)

	id, err := svc.SendMessage(ctx, sender, recipient.Address, "c1ph3rt3xt")
	require.NoError(t, err)
	assert.Positive(t, id)

	inbox, err := svc.ListInbox(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, id, inbox[0].ID)
	assert.Equal(t, sender.Address, inbox[0].Sender)
	assert.Equal(t, "c1ph3rt3xt", inbox[0].EncryptedBody)

	senderInbox, err := svc.ListInbox(ctx, sender)
	require.NoError(t, err)
	assert.Empty(t, senderInbox)
}

func TestListSentNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	aa := auth.Caller{Address: "0xaa"}

	first, err := svc.SendMessage(ctx, aa, "0xBB", "one")
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, aa, "0xBB", "two")
	require.NoError(t, err)

	sent, err := svc.ListSent(ctx, aa)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, second, sent[0].ID)
	assert.Equal(t, first, sent[1].ID)
	assert.Equal(t, "0xbb", sent[0].Recipient)
	assert.True(t, sent[0].CreatedAt.After(sent[1].CreatedAt))
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, auth.Caller{}, "0xbb", "body")
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	_, err = svc.SendMessage(ctx, auth.Caller{Address: "0xaa"}, "", "body")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.SendMessage(ctx, auth.Caller{Address: "0xaa"}, "0xbb", "")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.ListInbox(ctx, auth.Caller{})
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	_, err = svc.ListSent(ctx, auth.Caller{})
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

func TestSendMessageTruncatesToMicroseconds(t *testing.T) {
	mem := store.NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC)
	svc := NewService(mem, mem, auth.NewGate(""), WithClock(func() time.Time { return now }))

	_, err := svc.SendMessage(context.Background(), auth.Caller{Address: "0xaa"}, "0xbb", "body")
	require.NoError(t, err)

	inbox, err := svc.ListInbox(context.Background(), auth.Caller{Address: "0xbb"})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, 123456000, inbox[0].CreatedAt.Nanosecond())
}

// failingLog is a MessageLog whose backend is down.
type failingLog struct{}

var errDown = errors.New("connection refused")

func (failingLog) AppendMessage(context.Context, string, string, string, time.Time) (int64, error) {
	return 0, errors.Join(store.ErrUnavailable, errDown)
}

func (failingLog) ListByRecipient(context.Context, string) ([]models.Message, error) {
	return nil, errors.Join(store.ErrUnavailable, errDown)
}

func (failingLog) ListBySender(context.Context, string) ([]models.Message, error) {
	return nil, errors.Join(store.ErrUnavailable, errDown)
}

func (failingLog) MessageStats(context.Context) (int64, *time.Time, error) {
	return 0, nil, errors.Join(store.ErrUnavailable, errDown)
}

func TestStoreFailuresPropagate(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := NewService(mem, failingLog{}, auth.NewGate(""))
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, auth.Caller{Address: "0xaa"}, "0xbb", "body")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = svc.ListInbox(ctx, auth.Caller{Address: "0xaa"})
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = svc.Stats(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
	assert.Nil(t, stats.LastMessageAt)

	require.NoError(t, svc.RegisterKey(ctx, "0xaa", "pk"))
	_, err = svc.SendMessage(ctx, auth.Caller{Address: "0xaa"}, "0xbb", "body")
	require.NoError(t, err)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Identities)
	assert.Equal(t, int64(1), stats.Messages)
	assert.NotNil(t, stats.LastMessageAt)
}
