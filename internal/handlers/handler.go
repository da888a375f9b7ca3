package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
	"github.com/whispernet/whispernet/internal/relay"
	"github.com/whispernet/whispernet/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *relay.Service
	data   store.DataStore
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(svc *relay.Service, data store.DataStore, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, data: data, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a relay error onto an HTTP status. Persistence failures are
// logged and reported without detail.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrBadRequest):
		h.Error(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), relay.ErrBadRequest.Error()+": "))
	case errors.Is(err, auth.ErrAuthRequired):
		h.Error(w, http.StatusUnauthorized, "Authentication required. Please connect your wallet.")
	case errors.Is(err, auth.ErrAddressMismatch):
		h.Error(w, http.StatusUnauthorized, "Signature does not match address")
	case errors.Is(err, crypto.ErrInvalidSignature):
		h.Error(w, http.StatusUnauthorized, "Invalid signature format: "+err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "Public key not found")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}

// callerOf returns the caller attached by the auth middleware.
func callerOf(r *http.Request) auth.Caller {
	caller, _ := auth.CallerFromContext(r.Context())
	return caller
}
