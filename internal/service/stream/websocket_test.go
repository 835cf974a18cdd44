package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/polls/7/ws") {
			http.NotFound(w, r)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		serve(c)
	}))
}

func TestWSTransportDeliversFrames(t *testing.T) {
	srv := wsServer(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"initial","data":{"poll_id":7}}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"update","data":{"poll_id":7,"total_votes":1}}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
	defer srv.Close()

	tr := NewWSTransport(srv.URL)
	rec := newRecorder()
	rec.attach(tr)
	if err := tr.Open(7); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := waitErr(t, rec); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("err = %v, want ErrServerClosed", err)
	}
	got := rec.snapshot()
	want := []string{
		`initial={"poll_id":7}`,
		`update={"poll_id":7,"total_votes":1}`,
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestWSTransportMalformedFrameFails(t *testing.T) {
	srv := wsServer(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`not json`))
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	tr := NewWSTransport(srv.URL)
	rec := newRecorder()
	rec.attach(tr)
	_ = tr.Open(7)

	err := waitErr(t, rec)
	if err == nil || errors.Is(err, ErrServerClosed) {
		t.Fatalf("err = %v, want malformed frame error", err)
	}
}

func TestWSTransportCloseIsSilent(t *testing.T) {
	hold := make(chan struct{})
	srv := wsServer(t, func(c *websocket.Conn) {
		_, _, _ = c.ReadMessage()
		<-hold
	})
	defer srv.Close()
	defer close(hold)

	tr := NewWSTransport(srv.URL)
	rec := newRecorder()
	rec.attach(tr)
	_ = tr.Open(7)

	select {
	case <-rec.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen not fired")
	}
	_ = tr.Close()

	select {
	case err := <-rec.errs:
		t.Fatalf("OnError after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSBase(t *testing.T) {
	cases := map[string]string{
		"http://h/api":  "ws://h/api",
		"https://h/api": "wss://h/api",
		"ws://h":        "ws://h",
	}
	for in, want := range cases {
		if got := wsBase(in); got != want {
			t.Errorf("wsBase(%q) = %q, want %q", in, got, want)
		}
	}
}
