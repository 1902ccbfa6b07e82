package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/seriesvault/seriesvault/internal/domain"
)

// Events handles GET /api/events: a Server-Sent Events stream carrying the
// same payload as the status poll, emitted on every progress publication.
// The first event is the current snapshot so a reconnecting client catches
// up immediately.
func (h *DownloadHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := h.progress.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				h.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap domain.ProgressSnapshot) error {
	payload := domain.StatusPayload{
		IsDownloading: snap.IsDownloading,
		Job:           &snap,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: download_progress\ndata: %s\n\n", data)
	return err
}
