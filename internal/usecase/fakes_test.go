package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/service/stream"
)

// fakeTransport records lifecycle calls; tests drive its handlers directly,
// playing the part of the transport goroutine.
type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	id      models.PollID
	opened  bool
	closed  bool
	events  map[string]stream.EventHandler
	onOpen  func()
	onError func(error)
}

func (t *fakeTransport) Open(id models.PollID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return stream.ErrClosed
	}
	if t.opened {
		return stream.ErrAlreadyOpen
	}
	if t.openErr != nil {
		return t.openErr
	}
	t.id, t.opened = id, true
	return nil
}

func (t *fakeTransport) OnEvent(name string, h stream.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events == nil {
		t.events = make(map[string]stream.EventHandler)
	}
	t.events[name] = h
}

func (t *fakeTransport) OnOpen(h func()) { t.mu.Lock(); t.onOpen = h; t.mu.Unlock() }

func (t *fakeTransport) OnError(h func(error)) { t.mu.Lock(); t.onError = h; t.mu.Unlock() }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) target() models.PollID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *fakeTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened && !t.closed
}

func (t *fakeTransport) open() {
	t.mu.Lock()
	h := t.onOpen
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

func (t *fakeTransport) emit(name string, payload interface{}) {
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	default:
		b, _ = json.Marshal(p)
	}
	t.mu.Lock()
	h := t.events[name]
	t.mu.Unlock()
	if h != nil {
		h(b)
	}
}

func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	h := t.onError
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
	notify  chan struct{}
	// openErr is returned by Open of every transport created while set
	openErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{notify: make(chan struct{}, 16)}
}

func (f *fakeFactory) New() stream.Transport {
	f.mu.Lock()
	t := &fakeTransport{openErr: f.openErr}
	f.created = append(f.created, t)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return t
}

func (f *fakeFactory) failOpens(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *fakeFactory) openTransports() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTransport
	for _, t := range f.created {
		if t.isOpen() {
			out = append(out, t)
		}
	}
	return out
}

// fakeAPI serves canned stats and submission results.
type fakeAPI struct {
	mu        sync.Mutex
	stats     map[models.PollID]models.StatsSnapshot
	fetchErr  error
	submitErr error
	submitted [][]int64
	// gate, when set, blocks FetchStats until it is closed or ctx ends
	gate chan struct{}
	// afterSubmit replaces stats[id] when a vote is submitted
	afterSubmit map[models.PollID]models.StatsSnapshot
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		stats:       make(map[models.PollID]models.StatsSnapshot),
		afterSubmit: make(map[models.PollID]models.StatsSnapshot),
	}
}

func (a *fakeAPI) set(s models.StatsSnapshot) {
	a.mu.Lock()
	a.stats[s.PollID] = s
	a.mu.Unlock()
}

func (a *fakeAPI) FetchStats(ctx context.Context, id models.PollID) (models.StatsSnapshot, error) {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.StatsSnapshot{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return models.StatsSnapshot{}, a.fetchErr
	}
	s, ok := a.stats[id]
	if !ok {
		return models.StatsSnapshot{}, models.ErrPollNotFound
	}
	return s.Clone(), nil
}

func (a *fakeAPI) SubmitVote(_ context.Context, id models.PollID, optionIDs []int64) (models.StatsSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted = append(a.submitted, optionIDs)
	if a.submitErr != nil {
		return models.StatsSnapshot{}, a.submitErr
	}
	s, ok := a.afterSubmit[id]
	if !ok {
		return models.StatsSnapshot{}, errors.New("no canned submission result")
	}
	a.stats[id] = s
	return s.Clone(), nil
}

func snap(id models.PollID, counts ...int64) models.StatsSnapshot {
	s := models.StatsSnapshot{PollID: id, Title: "t", Question: "q"}
	for i, c := range counts {
		s.Options = append(s.Options, models.OptionStat{ID: int64(i + 1), Text: "opt", Count: c})
		s.TotalVotes += c
	}
	return s
}
