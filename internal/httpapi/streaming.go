package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/streaming"
)

// handleSSE is the Server-Sent Events twin of handleWS.
// GET /api/v1/records/{id}/stream/sse
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	p, err := parseStreamParams(r)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := s.streams.Subscribe(p.topic, subscriberBuffer)
	defer cancel()

	fmt.Fprintf(w, ": connected to %s\n\n", p.topic)
	sent := p.lastID
	for _, ev := range s.backlog(r, p) {
		if p.wants(ev) {
			writeSSE(w, ev)
			sent = ev.Seq
		}
	}
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", zap.String("topic", p.topic))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= sent || !p.wants(ev) {
				continue
			}
			writeSSE(w, ev)
			sent = ev.Seq
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
