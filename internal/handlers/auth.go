package handlers

import (
	"net/http"

	"github.com/whispernet/whispernet/internal/relay"
)

// LoginRequest represents the login request body.
type LoginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

// LoginResponse confirms the wallet that signed the challenge.
type LoginResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
}

// Login checks a signature over the login challenge. No session is issued;
// clients keep sending the same credentials as headers.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, err := h.svc.Login(r.Context(), relay.LoginRequest{
		Address:   req.Address,
		Signature: req.Signature,
		Message:   req.Message,
	})
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusOK, LoginResponse{Success: true, Address: caller.Address})
}
