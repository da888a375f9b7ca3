// Package auth decides who is calling. A caller proves possession of a
// wallet key by presenting a signature over the deployment's fixed login
// challenge together with the address it claims. Nothing is kept between
// requests; every protected request re-proves possession.
//
// The challenge never rotates, so a captured (address, signature) pair can
// be replayed indefinitely. Clients depend on this protocol as-is.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/whispernet/whispernet/internal/crypto"
)

// Request headers carrying caller credentials.
const (
	HeaderAddress   = "X-Wallet-Address"
	HeaderSignature = "X-Wallet-Auth"
)

// DefaultChallenge is the text wallets sign to log in.
const DefaultChallenge = "Login to WhisperNet"

var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrAddressMismatch = errors.New("signature does not match address")
)

// RouteClass tells whether a route needs an authenticated caller.
type RouteClass int

const (
	Protected RouteClass = iota
	Public
)

func (c RouteClass) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// Classify returns Public for key registration, login and key lookup.
// Every other relay route is Protected.
func Classify(method, path string) RouteClass {
	switch {
	case method == http.MethodPost && path == "/auth/login":
		return Public
	case method == http.MethodPost && path == "/keys/register":
		return Public
	case method == http.MethodGet && strings.HasPrefix(path, "/keys/") && len(path) > len("/keys/"):
		return Public
	}
	return Protected
}

// Credentials are the caller-supplied address and signature.
type Credentials struct {
	Address   string
	Signature string
}

// FromRequest reads credentials from the request headers.
func FromRequest(r *http.Request) Credentials {
	return Credentials{
		Address:   strings.TrimSpace(r.Header.Get(HeaderAddress)),
		Signature: strings.TrimSpace(r.Header.Get(HeaderSignature)),
	}
}

// Caller is the verified identity of one request.
type Caller struct {
	Address string
}

// RecoverFunc recovers the signer address of a challenge signature.
type RecoverFunc func(challenge string, signature []byte) (string, error)

// Gate verifies credentials against the fixed challenge.
type Gate struct {
	challenge string
	recover   RecoverFunc
}

// NewGate creates a gate for challenge using wallet signature recovery.
func NewGate(challenge string) *Gate {
	if challenge == "" {
		challenge = DefaultChallenge
	}
	return &Gate{challenge: challenge, recover: crypto.RecoverAddress}
}

// Challenge returns the text callers must sign.
func (g *Gate) Challenge() string {
	return g.challenge
}

// Authenticate turns request credentials into a Caller.
// Missing credentials yield ErrAuthRequired.
func (g *Gate) Authenticate(creds Credentials) (Caller, error) {
	if creds.Address == "" || creds.Signature == "" {
		return Caller{}, ErrAuthRequired
	}
	return g.Verify(creds.Address, creds.Signature)
}

// Verify recovers the signer of signature and checks it against address.
// Errors wrap crypto.ErrInvalidSignature or ErrAddressMismatch.
func (g *Gate) Verify(address, signature string) (Caller, error) {
	sig, err := crypto.ParseSignature(signature)
	if err != nil {
		return Caller{}, err
	}

	recovered, err := g.recover(g.challenge, sig)
	if err != nil {
		return Caller{}, err
	}

	if recovered != crypto.NormalizeAddress(address) {
		return Caller{}, ErrAddressMismatch
	}

	return Caller{Address: recovered}, nil
}

type contextKey struct{}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// CallerFromContext returns the caller attached by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(contextKey{}).(Caller)
	return caller, ok && caller.Address != ""
}
