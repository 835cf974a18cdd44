package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PollPulse/internal/domain/models"
	xhttp "PollPulse/pkg/http"
	applogger "PollPulse/pkg/logger"
)

// Event names carried by a poll stream.
const (
	EventInitial = "initial"
	EventUpdate  = "update"
)

const (
	KindSSE       = "sse"
	KindWebSocket = "websocket"
)

var (
	ErrAlreadyOpen = errors.New("stream: transport already opened")
	ErrClosed      = errors.New("stream: transport closed")
	// ErrServerClosed is reported when the server ends the stream.
	ErrServerClosed = errors.New("stream: closed by server")
)

// EventHandler receives the raw payload of a named event.
type EventHandler func(data []byte)

// Transport is one server-push connection to a single poll. It is single
// use: Open at most once, then Close. Events are delivered sequentially from
// one goroutine. OnError fires at most once, after which the transport is
// closed and does not retry. Register handlers before Open.
type Transport interface {
	Open(pollID models.PollID) error
	OnEvent(name string, h EventHandler)
	OnOpen(h func())
	OnError(h func(error))
	Close() error
}

// Factory creates a fresh, unopened transport.
type Factory func() Transport

// NewFactory returns a factory for the given kind (sse or websocket).
func NewFactory(kind, baseURL string, opts ...Option) (Factory, error) {
	switch kind {
	case KindSSE, "":
		return func() Transport { return NewSSETransport(baseURL, opts...) }, nil
	case KindWebSocket:
		return func() Transport { return NewWSTransport(baseURL, opts...) }, nil
	default:
		return nil, fmt.Errorf("stream: unknown transport %q", kind)
	}
}

// Option configures a transport.
type Option func(*options)

type options struct {
	client       *xhttp.Client
	logger       *applogger.Logger
	headers      map[string]string
	maxFrame     int
	pingInterval time.Duration
}

func defaultOptions() options {
	return options{
		logger:       applogger.Nop(),
		maxFrame:     1 << 20,
		pingInterval: 20 * time.Second,
	}
}

// WithClient sets the HTTP client used by the SSE transport. It must not
// carry an overall timeout; the stream lives until closed.
func WithClient(c *xhttp.Client) Option {
	return func(o *options) { o.client = c }
}

func WithLogger(l *applogger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHeader adds a request header to the stream request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithMaxFrameSize bounds a single SSE line or websocket frame.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrame = n
		}
	}
}

// WithPingInterval sets the websocket keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// streamURL builds {base}/polls/{id}/{suffix}.
func streamURL(base string, id models.PollID, suffix string) string {
	return strings.TrimRight(base, "/") + "/polls/" + id.String() + "/" + suffix
}

const (
	stateIdle int32 = iota
	stateOpen
	stateClosed
)

// lifecycle holds the handler registry and the open/closed state shared by
// both transports.
type lifecycle struct {
	hmu     sync.Mutex
	events  map[string]EventHandler
	onOpen  func()
	onError func(error)

	state    atomic.Int32
	errFired atomic.Bool
}

func (l *lifecycle) OnEvent(name string, h EventHandler) {
	l.hmu.Lock()
	defer l.hmu.Unlock()
	if l.events == nil {
		l.events = make(map[string]EventHandler)
	}
	l.events[name] = h
}

func (l *lifecycle) OnOpen(h func()) {
	l.hmu.Lock()
	l.onOpen = h
	l.hmu.Unlock()
}

func (l *lifecycle) OnError(h func(error)) {
	l.hmu.Lock()
	l.onError = h
	l.hmu.Unlock()
}

// begin moves idle to open.
func (l *lifecycle) begin(id models.PollID) error {
	if !id.Valid() {
		return models.ErrInvalidPollID
	}
	if l.state.CompareAndSwap(stateIdle, stateOpen) {
		return nil
	}
	if l.state.Load() == stateClosed {
		return ErrClosed
	}
	return ErrAlreadyOpen
}

// end moves to closed and reports whether this call did it.
func (l *lifecycle) end() bool {
	return l.state.Swap(stateClosed) != stateClosed
}

func (l *lifecycle) live() bool { return l.state.Load() == stateOpen }

func (l *lifecycle) fireOpen() {
	if !l.live() {
		return
	}
	l.hmu.Lock()
	h := l.onOpen
	l.hmu.Unlock()
	if h != nil {
		h()
	}
}

func (l *lifecycle) fireEvent(name string, data []byte) {
	if !l.live() {
		return
	}
	l.hmu.Lock()
	h := l.events[name]
	l.hmu.Unlock()
	if h != nil {
		h(data)
	}
}

// fail closes the transport through closeFn and reports err once, unless
// the transport was already closed by its owner.
func (l *lifecycle) fail(err error, closeFn func()) {
	if !l.end() {
		return
	}
	closeFn()
	if !l.errFired.CompareAndSwap(false, true) {
		return
	}
	l.hmu.Lock()
	h := l.onError
	l.hmu.Unlock()
	if h != nil {
		h(err)
	}
}
