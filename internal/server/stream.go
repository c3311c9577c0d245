package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"permitline/internal/events"
)

const keepAliveInterval = 25 * time.Second

// streamHandler serves hub notifications as Server-Sent Events. The event
// field carries the notification name and the id field its envelope id.
func streamHandler(hub *events.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		p, authErr := principalFromRequest(r.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ch := hub.Subscribe(r.Context(), p.ActorID)
		_, _ = w.Write([]byte(": stream started\n\n"))
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				_, _ = w.Write([]byte(": ping\n\n"))
				flusher.Flush()
			case env, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(env.Data)
				if err != nil {
					logger.Warn("encode notification", zap.String("event", env.Event), zap.Error(err))
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Event, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
