package stream

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PollPulse/internal/domain/models"
	xhttp "PollPulse/pkg/http"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	opened chan struct{}
	errs   chan error
}

func newRecorder() *recorder {
	return &recorder{opened: make(chan struct{}, 1), errs: make(chan error, 4)}
}

func (r *recorder) attach(t Transport) {
	for _, name := range []string{EventInitial, EventUpdate, "message"} {
		name := name
		t.OnEvent(name, func(data []byte) {
			r.mu.Lock()
			r.events = append(r.events, name+"="+string(data))
			r.mu.Unlock()
		})
	}
	t.OnOpen(func() { r.opened <- struct{}{} })
	t.OnError(func(err error) { r.errs <- err })
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitErr(t *testing.T, r *recorder) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
		return nil
	}
}

func TestSSETransportParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/polls/7/stream" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": hello\n\n")
		fmt.Fprint(w, "event: initial\ndata: {\"poll_id\":7}\n\n")
		fmt.Fprint(w, "id: 2\nevent: update\ndata: {\"a\":1,\ndata: \"b\":2}\r\n\r\n")
		fmt.Fprint(w, "data: plain\n\n")
		// event without data is not dispatched
		fmt.Fprint(w, "event: update\n\n")
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL + "/api/v1")
	rec := newRecorder()
	rec.attach(tr)
	if err := tr.Open(7); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	err := waitErr(t, rec)
	if !errors.Is(err, ErrServerClosed) {
		t.Fatalf("err = %v, want ErrServerClosed", err)
	}

	got := rec.snapshot()
	want := []string{
		`initial={"poll_id":7}`,
		"update={\"a\":1,\n\"b\":2}",
		"message=plain",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestSSETransportNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	rec := newRecorder()
	rec.attach(tr)
	if err := tr.Open(1); err != nil {
		t.Fatal(err)
	}

	var se *xhttp.StatusError
	if err := waitErr(t, rec); !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	select {
	case <-rec.opened:
		t.Fatal("OnOpen must not fire for a failed request")
	default:
	}
}

func TestSSETransportOversizeFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: %s\n\n", strings.Repeat("x", 256))
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL, WithMaxFrameSize(64))
	rec := newRecorder()
	rec.attach(tr)
	_ = tr.Open(1)

	if err := waitErr(t, rec); err == nil || errors.Is(err, ErrServerClosed) {
		t.Fatalf("err = %v, want oversize error", err)
	}
}

func TestSSETransportOpenRules(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	tr := NewSSETransport(srv.URL)
	if err := tr.Open(0); !errors.Is(err, models.ErrInvalidPollID) {
		t.Fatalf("Open(0) = %v", err)
	}

	rec := newRecorder()
	rec.attach(tr)
	if err := tr.Open(3); err != nil {
		t.Fatal(err)
	}
	if err := tr.Open(3); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open = %v, want ErrAlreadyOpen", err)
	}

	select {
	case <-rec.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen not fired")
	}

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal("Close must be idempotent")
	}
	if err := tr.Open(3); !errors.Is(err, ErrClosed) {
		t.Fatalf("Open after Close = %v, want ErrClosed", err)
	}

	select {
	case err := <-rec.errs:
		t.Fatalf("OnError fired after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSETransportDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewSSETransport(url)
	rec := newRecorder()
	rec.attach(tr)
	_ = tr.Open(1)
	if err := waitErr(t, rec); err == nil {
		t.Fatal("expected dial error")
	}

	// exactly once
	select {
	case err := <-rec.errs:
		t.Fatalf("OnError fired twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(KindSSE, "http://x")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f().(*SSETransport); !ok {
		t.Fatal("sse factory returned wrong type")
	}
	f, _ = NewFactory(KindWebSocket, "http://x")
	if _, ok := f().(*WSTransport); !ok {
		t.Fatal("websocket factory returned wrong type")
	}
	if _, err := NewFactory("carrier-pigeon", "http://x"); err == nil {
		t.Fatal("unknown kind should fail")
	}
}
