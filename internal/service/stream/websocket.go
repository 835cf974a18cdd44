package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"PollPulse/internal/domain/models"
	applogger "PollPulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// Frame is the websocket message shape: {"event":"update","data":{...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSTransport reads JSON frames from {base}/polls/{id}/ws.
type WSTransport struct {
	lifecycle

	baseURL string
	opts    options
	dialer  *websocket.Dialer

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
}

// NewWSTransport creates an unopened websocket transport. http(s) base URLs
// are mapped to ws(s).
func NewWSTransport(baseURL string, opts ...Option) *WSTransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WSTransport{
		baseURL: wsBase(baseURL),
		opts:    o,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// Open dials on its own goroutine and returns immediately.
func (t *WSTransport) Open(pollID models.PollID) error {
	if err := t.begin(pollID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	if !t.live() {
		cancel()
		return nil
	}

	go t.run(ctx, pollID)
	return nil
}

// Close is idempotent.
func (t *WSTransport) Close() error {
	if t.end() {
		t.release()
	}
	return nil
}

func (t *WSTransport) release() {
	t.mu.Lock()
	cancel, conn := t.cancel, t.conn
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (t *WSTransport) run(ctx context.Context, pollID models.PollID) {
	url := streamURL(t.baseURL, pollID, "ws")
	header := http.Header{}
	for k, v := range t.opts.headers {
		header.Set(k, v)
	}

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("ws dial %s: status %d: %w", url, resp.StatusCode, err)
		} else {
			err = fmt.Errorf("ws dial %s: %w", url, err)
		}
		t.fail(err, t.release)
		return
	}

	t.mu.Lock()
	if !t.live() {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	conn.SetReadLimit(int64(t.opts.maxFrame))
	wait := 2 * t.opts.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	t.opts.logger.Debug("ws stream open", applogger.String("url", url))
	t.fireOpen()

	go t.pingLoop(ctx, conn)
	t.fail(t.read(conn, wait), t.release)
}

func (t *WSTransport) read(conn *websocket.Conn, wait time.Duration) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrServerClosed
			}
			return fmt.Errorf("ws read: %w", err)
		}
		// any frame proves liveness
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		var f Frame
		if err := json.Unmarshal(b, &f); err != nil || f.Event == "" {
			return fmt.Errorf("ws malformed frame: %q", truncate(b, 64))
		}
		t.fireEvent(f.Event, f.Data)
		if !t.live() {
			return nil
		}
	}
}

func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				t.opts.logger.Debug("ws ping failed", applogger.Error(err))
				return
			}
		}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
