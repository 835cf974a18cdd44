package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"PollPulse/internal/domain/models"
	xhttp "PollPulse/pkg/http"
	applogger "PollPulse/pkg/logger"
)

// SSETransport reads a text/event-stream from {base}/polls/{id}/stream.
type SSETransport struct {
	lifecycle

	baseURL string
	opts    options

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSSETransport creates an unopened SSE transport.
func NewSSETransport(baseURL string, opts ...Option) *SSETransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = xhttp.NewClient(xhttp.WithTimeout(0))
	}
	return &SSETransport{baseURL: baseURL, opts: o}
}

// Open starts the request on its own goroutine and returns immediately.
func (t *SSETransport) Open(pollID models.PollID) error {
	if err := t.begin(pollID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	// Close may have run between begin and storing cancel
	if !t.live() {
		cancel()
		return nil
	}

	go t.run(ctx, pollID)
	return nil
}

// Close is idempotent. It cancels the request and releases the body.
func (t *SSETransport) Close() error {
	if t.end() {
		t.release()
	}
	return nil
}

func (t *SSETransport) release() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *SSETransport) run(ctx context.Context, pollID models.PollID) {
	url := streamURL(t.baseURL, pollID, "stream")
	headers := map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range t.opts.headers {
		headers[k] = v
	}

	resp, err := t.opts.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  http.MethodGet,
		URL:     url,
		Headers: headers,
	})
	if err != nil {
		t.fail(fmt.Errorf("sse dial %s: %w", url, err), t.release)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		t.fail(&xhttp.StatusError{StatusCode: resp.StatusCode, Body: body}, t.release)
		return
	}

	t.opts.logger.Debug("sse stream open", applogger.String("url", url))
	t.fireOpen()

	err = t.read(resp.Body)
	if err == nil {
		err = ErrServerClosed
	}
	t.fail(err, t.release)
}

// read parses the event stream until EOF or error. A nil return means the
// server closed the stream cleanly.
func (t *SSETransport) read(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, t.opts.maxFrame)), t.opts.maxFrame)

	var (
		event string
		data  bytes.Buffer
		has   bool
	)
	dispatch := func() {
		if has {
			name := event
			if name == "" {
				name = "message"
			}
			payload := append([]byte(nil), data.Bytes()...)
			t.fireEvent(name, payload)
		}
		event, has = "", false
		data.Reset()
	}

	for sc.Scan() {
		if !t.live() {
			return nil
		}
		line := sc.Bytes()
		if len(line) == 0 {
			dispatch()
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}

		switch string(field) {
		case "event":
			event = string(value)
		case "data":
			if has {
				data.WriteByte('\n')
			}
			data.Write(value)
			has = true
		case "id", "retry":
			// no resume: a failed transport is replaced, not reconnected
		}
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("sse frame exceeds %d bytes: %w", t.opts.maxFrame, err)
		}
		return fmt.Errorf("sse read: %w", err)
	}
	return nil
}
