package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yash/gateboard/internal/events"
)

// handleStream serves server-sent events: one "snapshot" with the current
// list, then one "update" per change until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamer == nil {
		s.respondError(w, r, http.StatusServiceUnavailable, "streaming is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	code := airportFrom(r).Code
	updates, err := s.streamer.Subscribe(r.Context(), code)
	if err != nil {
		s.logger.Error("subscribing to updates", "airport", code, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "subscription failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := events.Update{
		Airport: code,
		Flights: s.flights.Get(code),
		Version: s.flights.Version(code),
		At:      time.Now().UTC(),
	}
	if err := writeEvent(w, "snapshot", snapshot); err != nil {
		return
	}
	flusher.Flush()

	last := snapshot.Version
	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Version != 0 {
				// Already covered by the snapshot or a later update.
				if u.Version <= last {
					continue
				}
				last = u.Version
			}
			if err := writeEvent(w, "update", u); err != nil {
				s.logger.Debug("stream client gone", "airport", code, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, u events.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
