package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sessionSet tracks live WebSocket sessions. http.Server.Shutdown does not
// see hijacked connections, so they are closed from here.
type sessionSet struct {
	mu      sync.Mutex
	closing bool
	live    map[*session]struct{}
	wg      sync.WaitGroup
}

func newSessionSet() *sessionSet {
	return &sessionSet{live: make(map[*session]struct{})}
}

// add reports false once shutdown has started.
func (ss *sessionSet) add(s *session) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.closing {
		return false
	}
	ss.live[s] = struct{}{}
	ss.wg.Add(1)
	return true
}

func (ss *sessionSet) remove(s *session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, ok := ss.live[s]; ok {
		delete(ss.live, s)
		ss.wg.Done()
	}
}

func (ss *sessionSet) count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.live)
}

// Shutdown sends every session a going-away close frame, drops the
// connection and waits until each session has detached. New sessions are
// refused from here on.
func (h *Handler) Shutdown(ctx context.Context) error {
	ss := h.sessions

	ss.mu.Lock()
	ss.closing = true
	live := make([]*session, 0, len(ss.live))
	for s := range ss.live {
		live = append(live, s)
	}
	ss.mu.Unlock()

	h.Logger.Info(ctx, "[WebSocket] closing sessions", "count", len(live))
	for _, s := range live {
		s.closeGoingAway()
	}

	done := make(chan struct{})
	go func() {
		ss.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) closeGoingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.h.Config.WSWriteWait))
	s.conn.Close()
}
