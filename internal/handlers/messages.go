package handlers

import (
	"net/http"
	"time"

	"github.com/whispernet/whispernet/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	To            string `json:"to"`
	EncryptedBody string `json:"encrypted_body"` // opaque ciphertext
}

// SendMessageResponse represents the send message response.
type SendMessageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// InboxEntry is a received message in API responses.
type InboxEntry struct {
	ID            int64  `json:"id"`
	From          string `json:"from"`
	EncryptedBody string `json:"encrypted_body"`
	Timestamp     string `json:"timestamp"`
}

// SentEntry is a sent message in API responses.
type SentEntry struct {
	ID            int64  `json:"id"`
	To            string `json:"to"`
	EncryptedBody string `json:"encrypted_body"`
	Timestamp     string `json:"timestamp"`
}

// SendMessage relays a message from the authenticated wallet.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.svc.SendMessage(r.Context(), callerOf(r), req.To, req.EncryptedBody)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{Message: "Message sent", ID: id})
}

// Inbox lists messages addressed to the authenticated wallet, newest first.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListInbox(r.Context(), callerOf(r))
	if err != nil {
		h.Fail(w, err)
		return
	}

	out := make([]InboxEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, InboxEntry{
			ID:            m.ID,
			From:          m.Sender,
			EncryptedBody: m.EncryptedBody,
			Timestamp:     timestamp(m),
		})
	}
	h.JSON(w, http.StatusOK, out)
}

// Sent lists messages the authenticated wallet has sent, newest first.
func (h *Handler) Sent(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListSent(r.Context(), callerOf(r))
	if err != nil {
		h.Fail(w, err)
		return
	}

	out := make([]SentEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, SentEntry{
			ID:            m.ID,
			To:            m.Recipient,
			EncryptedBody: m.EncryptedBody,
			Timestamp:     timestamp(m),
		})
	}
	h.JSON(w, http.StatusOK, out)
}

func timestamp(m models.Message) string {
	return m.CreatedAt.UTC().Format(time.RFC3339Nano)
}
