package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"logistics/api/internal/syncer"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
)

// eventQueue keeps only the latest event per collection. Every event carries
// the full collection, so an older pending one can be replaced. Events that
// arrive with a lower Seq than one already accepted are dropped.
type eventQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]syncer.Event
	last    map[string]uint64
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		pending: make(map[string]syncer.Event),
		last:    make(map[string]uint64),
		ready:   make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(ev syncer.Event) {
	q.mu.Lock()
	if seq, ok := q.last[ev.Path]; ok && ev.Seq <= seq {
		q.mu.Unlock()
		return
	}
	q.last[ev.Path] = ev.Seq
	if _, ok := q.pending[ev.Path]; !ok {
		q.order = append(q.order, ev.Path)
	}
	q.pending[ev.Path] = ev
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []syncer.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]syncer.Event, 0, len(q.order))
	for _, path := range q.order {
		out = append(out, q.pending[path])
	}
	q.order = q.order[:0]
	clear(q.pending)
	return out
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// handleStream pushes the current mirror and then every mirror change to the
// client as JSON text frames.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	queue := newEventQueue()
	cancel := s.service.Watch(queue.push)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for _, ev := range s.service.Snapshot() {
		queue.push(ev)
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-queue.ready:
			for _, ev := range queue.drain() {
				if err := writeEvent(conn, ev); err != nil {
					s.log.Debug("stream write failed", zap.String("request_id", requestID(r)), zap.Error(err))
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev syncer.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}
