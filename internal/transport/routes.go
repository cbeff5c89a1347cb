package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"offpay/internal/domain"
)

// maxEnvelopeBytes bounds a posted envelope.
const maxEnvelopeBytes = 64 << 10

// Routes mounts the relay mailbox API on r:
//
//	POST /msg/{device}            enqueue an envelope for device
//	GET  /msg/{device}?limit=N    list up to N queued envelopes
//	POST /msg/{device}/ack        drop the first {"count": N} envelopes
func Routes(r chi.Router, box *Mailbox) {
	h := &mailboxHandler{box: box}
	r.Route("/msg/{device}", func(r chi.Router) {
		r.Post("/", h.handlePush)
		r.Get("/", h.handleFetch)
		r.Post("/ack", h.handleAck)
	})
}

type mailboxHandler struct {
	box *Mailbox
}

func (h *mailboxHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	device := domain.DeviceID(chi.URLParam(r, "device"))
	var env domain.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)).Decode(&env); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if env.To != device {
		respondWithError(w, http.StatusBadRequest, "envelope recipient does not match mailbox")
		return
	}
	if env.Kind == "" || len(env.Payload) == 0 {
		respondWithError(w, http.StatusBadRequest, "envelope kind and payload are required")
		return
	}
	h.box.Push(env)
	w.WriteHeader(http.StatusAccepted)
}

func (h *mailboxHandler) handleFetch(w http.ResponseWriter, r *http.Request) {
	device := domain.DeviceID(chi.URLParam(r, "device"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, h.box.Peek(device, limit))
}

func (h *mailboxHandler) handleAck(w http.ResponseWriter, r *http.Request) {
	device := domain.DeviceID(chi.URLParam(r, "device"))
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count < 0 {
		respondWithError(w, http.StatusBadRequest, "invalid ack")
		return
	}
	h.box.Drop(device, req.Count)
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
