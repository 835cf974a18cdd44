package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/usecase"
	xhttp "PollPulse/pkg/http"
	xlogger "PollPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	eventInitial = "initial"
	eventUpdate  = "update"
	wsWriteWait  = 10 * time.Second
)

// wsFrame matches the frame the websocket client transport decodes.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StreamEchoHandler pushes poll stats over SSE (/stream) and websocket (/ws).
// Each connection gets an `initial` snapshot followed by `update` events.
type StreamEchoHandler struct {
	logger    *xlogger.Logger
	svc       *usecase.PollService
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	closing chan struct{}
	once    sync.Once
}

func NewStreamEchoHandler(logger *xlogger.Logger, svc *usecase.PollService, heartbeat time.Duration) *StreamEchoHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamEchoHandler{
		logger:    logger,
		svc:       svc,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

func (h *StreamEchoHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/polls/:id/stream", h.SSE)
	g.GET("/polls/:id/ws", h.WS)
}

// Shutdown ends every open stream; the HTTP server can then drain.
func (h *StreamEchoHandler) Shutdown() {
	h.once.Do(func() { close(h.closing) })
}

// open subscribes first and reads the snapshot second, so no update between
// the two is lost.
func (h *StreamEchoHandler) open(c echo.Context, transport string) (*usecase.Subscription, models.StatsSnapshot, error) {
	id, err := pollIDParam(c)
	if err != nil {
		return nil, models.StatsSnapshot{}, models.ErrInvalidPollID
	}
	sub := h.svc.Hub().Subscribe(id, transport)
	snap, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		sub.Close()
		return nil, models.StatsSnapshot{}, err
	}
	return sub, snap, nil
}

func (h *StreamEchoHandler) SSE(c echo.Context) error {
	sub, snap, err := h.open(c, "sse")
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, eventInitial, snap); err != nil {
		return nil
	}
	last := snap.TotalVotes

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.closing:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case s, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if s.TotalVotes < last {
				continue
			}
			last = s.TotalVotes
			if err := writeSSE(w, eventUpdate, s); err != nil {
				h.logger.Debug("sse write failed", xlogger.Error(err))
				return nil
			}
		}
	}
}

func writeSSE(w *echo.Response, event string, s models.StatsSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (h *StreamEchoHandler) WS(c echo.Context) error {
	sub, snap, err := h.open(c, "websocket")
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	// the read loop answers pings and notices when the peer goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, eventInitial, snap); err != nil {
		return nil
	}
	last := snap.TotalVotes

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case s, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if s.TotalVotes < last {
				continue
			}
			last = s.TotalVotes
			if err := writeFrame(conn, eventUpdate, s); err != nil {
				h.logger.Debug("websocket write failed", xlogger.Error(err))
				return nil
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, event string, s models.StatsSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(wsFrame{Event: event, Data: b})
}
