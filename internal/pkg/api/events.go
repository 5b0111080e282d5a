package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"go.uber.org/zap"
)

// events streams notifications as server-sent events until the client goes away.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	hub := a.backend.Hub()
	id, notifications, err := hub.Subscribe()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	defer func() {
		dropped, err := hub.Unsubscribe(id)
		if err == nil && dropped > 0 {
			log.Info(fmt.Sprintf("event subscriber missed %d notifications", dropped), zap.Int64("subscriber", id), logger.Warning)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				log.Info(fmt.Sprintf("encoding notification %s failed: %s", n.Name, err), logger.Warning)
				continue
			}
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Name, data)
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
