package realtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/haileyok/fanline/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conn is the subset of *websocket.Conn the hub writes to. Kept narrow so
// tests can register fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one registered connection. Writes are serialized per
// session; gorilla conns do not tolerate concurrent writers.
type Session struct {
	mu   sync.Mutex
	conn Conn
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub tracks connected users and delivers events to their sockets.
// Delivery is at-least-once; the delivered LRU makes repeats from fan-out
// retries ignorable, keyed by (user, post, type).
type Hub struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	sessions  map[int64]map[*Session]struct{}
	delivered *lru.Cache[string, struct{}]
	upgrader  websocket.Upgrader

	connected prometheus.Gauge
	pushes    *prometheus.CounterVec
}

type HubArgs struct {
	Logger *slog.Logger
	// DeliveredCacheSize bounds the dedup LRU. Defaults to 65536.
	DeliveredCacheSize int
}

func NewHub(args *HubArgs) (*Hub, error) {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	size := args.DeliveredCacheSize
	if size <= 0 {
		size = 65536
	}

	delivered, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}

	return &Hub{
		logger:    args.Logger,
		sessions:  make(map[int64]map[*Session]struct{}),
		delivered: delivered,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fanline_realtime_connections",
			Help: "currently registered websocket sessions",
		}),
		pushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fanline_realtime_pushes",
			Help: "realtime event deliveries by status",
		}, []string{"status"}),
	}, nil
}

func (h *Hub) Register(userID int64, c Conn) *Session {
	s := &Session{conn: c}

	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.mu.Unlock()

	h.connected.Inc()

	return s
}

func (h *Hub) Unregister(userID int64, s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[userID]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			h.connected.Dec()
		}
		if len(set) == 0 {
			delete(h.sessions, userID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) IsConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Push delivers the event to every session the user currently holds.
// Duplicate events for the same (user, post, type) are dropped. Sessions
// that fail to write are pruned; the user will catch up on next poll.
func (h *Hub) Push(userID int64, ev models.Event) error {
	key := fmt.Sprintf("%d:%d:%s", userID, ev.PostID, ev.Type)
	if _, dup := h.delivered.Get(key); dup {
		h.pushes.WithLabelValues("duplicate").Inc()
		return nil
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.pushes.WithLabelValues("offline").Inc()
		return nil
	}

	var failed []*Session
	for _, s := range targets {
		if err := s.send(ev); err != nil {
			h.logger.Warn("realtime write failed, pruning session", "user", userID, "error", err)
			failed = append(failed, s)
		}
	}

	for _, s := range failed {
		h.Unregister(userID, s)
		_ = s.conn.Close()
	}

	if len(failed) == len(targets) {
		h.pushes.WithLabelValues("failed").Inc()
		return fmt.Errorf("all sessions for user %d failed", userID)
	}

	h.delivered.Add(key, struct{}{})
	h.pushes.WithLabelValues("ok").Inc()

	return nil
}

// HandleWS upgrades the request and parks the connection in the hub until
// the peer goes away. The read loop only drains control frames; this
// transport is one-way.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, userID int64) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	s := h.Register(userID, c)
	defer func() {
		h.Unregister(userID, s)
		c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}
