package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"go.uber.org/zap"
)

const (
	sseBuffer    = 32
	sseKeepAlive = 15 * time.Second
)

// subscribe streams broadcast messages as Server-Sent Events. Messages below
// ?min_priority= are skipped. A slow client loses messages rather than
// blocking the broadcaster.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	minPriority, err := intParam(r, "min_priority", broadcast.MinPriority)
	if err != nil || minPriority > broadcast.MaxPriority {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_priority must be within [1,10]"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ch := make(chan broadcast.Message, sseBuffer)
	unsubscribe := h.stream.Subscribe(func(msg broadcast.Message) {
		if msg.Priority < minPriority {
			return
		}
		select {
		case ch <- msg:
		default:
			h.logger.Warn("sse client too slow, dropping message", zap.String("message", msg.ID))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-ch:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("encode sse message", zap.String("message", msg.ID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
