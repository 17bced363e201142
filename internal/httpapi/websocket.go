package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/streaming"
)

const (
	subscriberBuffer = 256
	pingInterval     = 20 * time.Second
	pongWait         = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamParams are the query options shared by the websocket and SSE routes.
type streamParams struct {
	topic  string
	lastID uint64
	types  map[string]struct{}
}

func (p streamParams) wants(ev streaming.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[ev.Type]
	return ok
}

func parseStreamParams(r *http.Request) (streamParams, error) {
	id, err := models.ParseID("record", r.PathValue("id"))
	if err != nil {
		return streamParams{}, err
	}
	p := streamParams{topic: streaming.RecordTopic(id), types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastID = n
		}
	}
	return p, nil
}

// backlog returns events after lastID, falling back to the Redis mirror
// when this replica never saw the topic.
func (s *Server) backlog(r *http.Request, p streamParams) []streaming.Event {
	if p.lastID == 0 {
		return nil
	}
	events := s.streams.ReplaySince(p.topic, p.lastID)
	if len(events) > 0 {
		return events
	}
	events, err := s.streams.ReplayFromRedis(r.Context(), p.topic, p.lastID)
	if err != nil {
		s.logger.Warn("Redis stream replay failed", zap.String("topic", p.topic), zap.Error(err))
		return nil
	}
	return events
}

// handleWS streams a record's progress events over a websocket.
// GET /api/v1/records/{id}/stream/ws?last_event_id=&types=
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	p, err := parseStreamParams(r)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// subscribe before replaying so nothing published in between is lost
	ch, cancel := s.streams.Subscribe(p.topic, subscriberBuffer)
	defer cancel()

	sent := p.lastID
	for _, ev := range s.backlog(r, p) {
		if !p.wants(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		sent = ev.Seq
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= sent || !p.wants(ev) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			sent = ev.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
