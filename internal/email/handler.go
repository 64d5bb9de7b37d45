// Package email is a stand-in mail service. Messages are validated, logged and
// kept in a bounded outbox instead of being delivered.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"
)

const defaultOutboxSize = 256

type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	outbox []Message
	limit  int
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		now:    time.Now,
		limit:  defaultOutboxSize,
	}
}

// Register mounts POST /send and GET /sent.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /send", wrap(h.HandleSend))
	mux.HandleFunc("GET /sent", wrap(h.HandleSent))
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := mail.ParseAddress(msg.To)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	msg.To = addr.Address
	msg.Subject = strings.TrimSpace(msg.Subject)
	if msg.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	msg.SentAt = h.now().UTC()

	h.record(msg)
	h.logger.Info("email accepted", "to", msg.To, "subject", msg.Subject)

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleSent lists the outbox, optionally filtered by ?to=.
func (h *Handler) HandleSent(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Sent(r.URL.Query().Get("to")))
}

// Sent returns accepted messages oldest first. An empty to returns all of them.
func (h *Handler) Sent(to string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Message, 0, len(h.outbox))
	for _, m := range h.outbox {
		if to == "" || strings.EqualFold(m.To, to) {
			out = append(out, m)
		}
	}
	return out
}

func (h *Handler) record(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outbox = append(h.outbox, msg)
	if over := len(h.outbox) - h.limit; over > 0 {
		h.outbox = append([]Message(nil), h.outbox[over:]...)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
