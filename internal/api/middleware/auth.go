package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/metrics"
)

// AuthMiddleware gates relay routes on wallet signatures.
type AuthMiddleware struct {
	gate   *auth.Gate
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(gate *auth.Gate, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{gate: gate, logger: logger}
}

// RequireAuth lets public routes through and verifies credentials on every
// other route before attaching the caller to the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.Classify(r.Method, r.URL.Path) == auth.Public {
			next.ServeHTTP(w, r)
			return
		}

		creds := auth.FromRequest(r)
		caller, err := m.gate.Authenticate(creds)
		if err != nil {
			reason, message := rejection(err)
			metrics.AuthRejections.WithLabelValues(reason).Inc()
			m.logger.Warn().
				Str("type", "security").
				Str("event", "auth_rejected").
				Str("reason", reason).
				Str("address", creds.Address).
				Str("endpoint", r.URL.Path).
				Str("ip", RealIP(r)).
				Msg("request rejected")
			jsonError(w, http.StatusUnauthorized, message)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

// rejection maps a gate error to a metric label and a client message.
func rejection(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrAuthRequired):
		return "auth_required", "Authentication required. Please connect your wallet."
	case errors.Is(err, auth.ErrAddressMismatch):
		return "address_mismatch", "Signature does not match address"
	case errors.Is(err, crypto.ErrInvalidSignature):
		return "signature_invalid", "Invalid signature format: " + err.Error()
	default:
		return "unknown", "authentication failed"
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
