// Package ws serves the real-time battle channel: one websocket per
// authenticated identity carrying JSON {"type", "data"} envelopes in both
// directions.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/cory-johannsen/arena/internal/auth"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/gameserver"
)

// StatusSuperseded closes a connection replaced by a newer one of the same
// identity.
const StatusSuperseded websocket.StatusCode = 4000

const (
	clientBuffer = 256
	readLimit    = 64 << 10
)

// Handler upgrades authenticated requests to websockets and pumps messages
// between the socket and the battle services.
type Handler struct {
	verifier     *auth.Verifier
	arena        *gameserver.Arena
	dispatch     *gameserver.Dispatcher
	origins      []string
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewHandler creates a Handler. origins lists accepted cross-origin patterns.
//
// Precondition: verifier, arena, dispatch and logger must be non-nil;
// writeTimeout > 0.
func NewHandler(
	verifier *auth.Verifier,
	arena *gameserver.Arena,
	dispatch *gameserver.Dispatcher,
	origins []string,
	writeTimeout time.Duration,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		verifier:     verifier,
		arena:        arena,
		dispatch:     dispatch,
		origins:      origins,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP authenticates the request from its bearer header or token query
// parameter, then serves the connection until either side hangs up.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, apperr.Message(err), http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	c := session.NewClient(id.PlayerID, id.Name, clientBuffer)
	log := h.logger.With(zap.Int64("player_id", id.PlayerID), zap.String("conn_id", c.ID()))
	h.arena.Connect(c)
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.write(ctx, conn, c, log)
	}()

	h.read(ctx, conn, c, log)

	cancel()
	h.arena.Disconnect(c)
	_ = c.Close()
	<-done
	_ = conn.Close(websocket.StatusNormalClosure, "")
	log.Info("websocket disconnected", zap.Uint64("dropped_events", c.Dropped()))
}

// read dispatches inbound envelopes until the socket fails or closes.
// Frames that are not valid envelopes are answered with a VALIDATION error.
func (h *Handler) read(ctx context.Context, conn *websocket.Conn, c *session.Client, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("websocket closed by peer")
			default:
				if ctx.Err() == nil {
					log.Debug("websocket read", zap.Error(err))
				}
			}
			return
		}
		var msg gameserver.Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.reject(c, log)
			continue
		}
		h.dispatch.Handle(ctx, c, msg)
	}
}

func (h *Handler) reject(c *session.Client, log *zap.Logger) {
	data, err := json.Marshal(gameserver.Event{
		Type: gameserver.EventError,
		Data: gameserver.ErrorData{Message: "malformed message", Code: apperr.CodeValidation},
	})
	if err != nil {
		return
	}
	if err := c.Push(data); err != nil {
		log.Debug("reply dropped", zap.Error(err))
	}
}

// write drains the client's queue onto the socket. A queue closed while ctx
// is live means the connection was superseded.
func (h *Handler) write(ctx context.Context, conn *websocket.Conn, c *session.Client, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.Events():
			if !ok {
				if ctx.Err() == nil {
					log.Info("connection superseded")
					_ = conn.Close(StatusSuperseded, "superseded by a newer connection")
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("websocket write", zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
