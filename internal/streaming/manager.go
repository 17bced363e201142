// Package streaming fans pipeline progress out to live subscribers and keeps
// a short replay history per topic.
package streaming

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
)

// Event is one progress notification.
type Event struct {
	Topic     string                 `json:"topic"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns the JSON form used on the wire and in Redis.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// RunTopic and RecordTopic name the two topic families.
func RunTopic(runID string) string       { return "run:" + runID }
func RecordTopic(recordID string) string { return "record:" + recordID }

// Config sizes the replay history and the optional Redis mirror.
type Config struct {
	Capacity     int   `mapstructure:"capacity"`
	RedisMaxLen  int64 `mapstructure:"redis_max_len"`
	RedisEnabled bool  `mapstructure:"redis_enabled"`
}

const (
	defaultCapacity    = 256
	defaultRedisMaxLen = 1000
	redisKeyPrefix     = "rfpstudio:stream:"
)

// Manager is an in-memory pub/sub with a per-topic ring buffer. When a Redis
// wrapper is attached every event is also appended to a capped Redis stream
// so other replicas can replay it.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	redis  *circuitbreaker.RedisWrapper
	maxLen int64
	logger *zap.Logger
}

// NewManager creates a manager. rw may be nil.
func NewManager(cfg Config, rw *circuitbreaker.RedisWrapper, logger *zap.Logger) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.RedisMaxLen <= 0 {
		cfg.RedisMaxLen = defaultRedisMaxLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    cfg.Capacity,
		redis:       rw,
		maxLen:      cfg.RedisMaxLen,
		logger:      logger,
	}
}

// Subscribe registers a buffered channel for topic. The returned cancel
// func unregisters and closes the channel; call it exactly once.
func (m *Manager) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	subs := m.subscribers[topic]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[topic] = subs
	}
	subs[ch] = struct{}{}
	m.mu.Unlock()
	ometrics.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if subs, ok := m.subscribers[topic]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(m.subscribers, topic)
				}
			}
			close(ch)
			ometrics.StreamSubscribers.Dec()
		})
	}
}

// Publish assigns the next sequence number for topic, records the event and
// delivers it without blocking. Slow subscribers miss events.
func (m *Manager) Publish(ctx context.Context, topic string, evt Event) Event {
	evt.Topic = topic
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[topic]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[topic] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	// deliver under the lock so a concurrent cancel cannot close ch mid-send
	for ch := range m.subscribers[topic] {
		select {
		case ch <- evt:
		default:
			ometrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	if m.redis != nil {
		m.mirror(ctx, evt)
	}
	return evt
}

func (m *Manager) mirror(ctx context.Context, evt Event) {
	err := m.redis.Do(ctx, func(c redis.UniversalClient) error {
		return c.XAdd(ctx, &redis.XAddArgs{
			Stream: redisKeyPrefix + evt.Topic,
			MaxLen: m.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"seq":   strconv.FormatUint(evt.Seq, 10),
				"event": string(evt.Marshal()),
			},
		}).Err()
	})
	if err != nil {
		m.logger.Warn("Failed to mirror stream event to Redis", zap.String("topic", evt.Topic), zap.Error(err))
	}
}

// ReplaySince returns buffered events of topic with Seq greater than since.
func (m *Manager) ReplaySince(topic string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[topic]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ReplayFromRedis reads the mirrored stream of topic, which outlives the
// process and is shared between replicas.
func (m *Manager) ReplayFromRedis(ctx context.Context, topic string, since uint64) ([]Event, error) {
	if m.redis == nil {
		return nil, nil
	}
	var msgs []redis.XMessage
	err := m.redis.Do(ctx, func(c redis.UniversalClient) error {
		var err error
		msgs, err = c.XRange(ctx, redisKeyPrefix+topic, "-", "+").Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			m.logger.Warn("Skipping undecodable stream entry", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

// ring is a fixed-capacity buffer that overwrites its oldest entry.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		if ev := r.buf[(r.start+i)%len(r.buf)]; ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
