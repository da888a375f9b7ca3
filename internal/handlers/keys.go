package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterKeyRequest represents the key registration request body.
type RegisterKeyRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// KeyResponse is the public key registered for an address.
type KeyResponse struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// RegisterKey stores or replaces the public key for an address.
func (h *Handler) RegisterKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterKeyRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.RegisterKey(r.Context(), req.Address, req.PublicKey); err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "Public key registered"})
}

// GetKey returns the public key registered for {address}.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	identity, err := h.svc.GetKey(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, KeyResponse{
		Address:   identity.Address,
		PublicKey: identity.PublicKey,
	})
}
