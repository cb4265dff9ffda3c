package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"guppyrelay/internal/directory"
	"guppyrelay/internal/logging"
	"guppyrelay/internal/model"
	"guppyrelay/internal/registry"
	"guppyrelay/internal/router"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// Requests without an Origin header come from non-browser clients and pass.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		Subprotocols: []string{cborSubprotocol},
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws?user_id=<id>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if _, err := h.Directory.FindByID(ctx, userID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			h.Logger.Warn(ctx, "[WebSocket] ❌ Unknown user", "user_id", userID)
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.Logger.Error(ctx, "[WebSocket] ❌ Directory error", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Directory error")
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade は既にエラーレスポンスを書いている
		h.Logger.Warn(ctx, "WebSocket upgrade error", "user_id", userID, "error", err)
		return
	}

	s := h.newSession(conn, userID)
	if !h.sessions.add(s) {
		s.closeGoingAway()
		return
	}
	defer h.sessions.remove(s)

	s.run(ctx)
}

// session is one WebSocket connection of one user. The reader routes
// inbound frames; the writer is the only goroutine writing to conn.
type session struct {
	h      *Handler
	conn   *websocket.Conn
	userID string
	codec  frameCodec
	queue  *registry.Queue
	logger logging.Logger

	replies    chan model.OutboundFrame
	done       chan struct{}
	writerDone chan struct{}
}

func (h *Handler) newSession(conn *websocket.Conn, userID string) *session {
	id := uuid.NewString()
	codec := codecFor(conn.Subprotocol())

	return &session{
		h:          h,
		conn:       conn,
		userID:     userID,
		codec:      codec,
		queue:      registry.NewQueue(id, h.Config.WSSendBuffer),
		logger:     h.Logger.With("user_id", userID, "channel", id, "codec", codec.name()),
		replies:    make(chan model.OutboundFrame, 16),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *session) run(ctx context.Context) {
	s.h.Registry.Attach(s.userID, s.queue)
	s.logger.Info(ctx, "[WebSocket] New connection", "devices", s.h.Registry.Count(s.userID))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)

	// Detach を先に。ルーターが閉じたキューを掴み続けないように
	s.h.Registry.Detach(s.userID, s.queue)
	s.queue.Close()
	close(s.done)
	wg.Wait()
	s.conn.Close()

	s.logger.Info(ctx, "[WebSocket] Client disconnected", "devices", s.h.Registry.Count(s.userID))
}

func (s *session) readLoop(ctx context.Context) {
	cfg := s.h.Config
	s.conn.SetReadLimit(cfg.WSMaxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(cfg.WSPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.WSPongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn(ctx, "[WebSocket] read error", "error", err)
			}
			return
		}

		var in model.InboundFrame
		if err := s.codec.decode(data, &in); err != nil {
			s.reply(model.ErrorFrame("invalid frame"))
			continue
		}

		s.reply(s.route(ctx, in))
	}
}

func (s *session) route(ctx context.Context, in model.InboundFrame) model.OutboundFrame {
	out, err := s.h.Router.Route(ctx, model.Envelope{
		SenderID:    s.userID,
		RecipientID: in.RecipientID,
		Ciphertext:  in.Ciphertext,
	})
	if err != nil {
		if errors.Is(err, router.ErrInvalidEnvelope) {
			return model.ErrorFrame(err.Error())
		}
		s.logger.Error(ctx, "[WebSocket] ❌ Message rejected", "recipient_id", in.RecipientID, "error", err)
		return model.ErrorFrame("message could not be stored")
	}
	return model.AckFrame(out.MessageID, out.FanoutCount)
}

// reply hands a frame to the writer. It gives up once the writer is gone.
func (s *session) reply(f model.OutboundFrame) {
	select {
	case s.replies <- f:
	case <-s.writerDone:
	}
}

func (s *session) writeLoop(ctx context.Context) {
	defer close(s.writerDone)

	cfg := s.h.Config
	ticker := time.NewTicker(cfg.WSPingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case msg, ok := <-s.queue.C():
			if !ok {
				return
			}
			err = s.write(model.MessageFrame(msg))
		case f := <-s.replies:
			err = s.write(f)
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WSWriteWait))
			err = s.conn.WriteMessage(websocket.PingMessage, nil)
		case <-s.done:
			return
		}

		if err != nil {
			// 書き込み失敗は切断扱い。Close で readLoop も抜ける
			s.logger.Warn(ctx, "[WebSocket] write error", "error", err)
			s.conn.Close()
			return
		}
	}
}

func (s *session) write(f model.OutboundFrame) error {
	data, err := s.codec.encode(f)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.h.Config.WSWriteWait))
	return s.conn.WriteMessage(s.codec.messageType(), data)
}
