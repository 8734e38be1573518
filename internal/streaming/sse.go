package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

const keepAliveInterval = 15 * time.Second

// Handler streams events as Server-Sent Events. The action and status query
// parameters narrow the stream; status takes a comma separated list.
func Handler(hub *Hub, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		filter := Filter{Action: r.URL.Query().Get("action")}
		if raw := r.URL.Query().Get("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				filter.Statuses = append(filter.Statuses, schema.InvocationStatus(strings.TrimSpace(s)))
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch, cancel := hub.Subscribe(r.Context(), filter)
		defer cancel()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case e, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					logger.Warn("encode invocation event", slog.Any("error", err))
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.InvocationID, e.Status, data)
				flusher.Flush()
			}
		}
	})
}
