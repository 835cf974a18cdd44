package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/internal/domain/service"
	applogger "PollPulse/pkg/logger"
)

var (
	ErrNoPoll           = errors.New("reconciler: no poll selected")
	ErrReconcilerClosed = errors.New("reconciler: closed")
)

// ReconcilerState is the lifecycle of one view's statistics.
type ReconcilerState int

const (
	StateIdle ReconcilerState = iota
	StateLoading
	StateLive
	// StateFailed means the initial REST read failed and nothing else has
	// been received yet.
	StateFailed
)

func (s ReconcilerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source tells where the displayed snapshot came from.
type Source string

const (
	SourceNone    Source = ""
	SourceREST    Source = "rest"
	SourcePush    Source = "push"
	SourceSubmit  Source = "submit"
	SourceRefetch Source = "refetch"
)

// DecreasePolicy decides what happens when a push reports a lower total than
// the one on display.
type DecreasePolicy string

const (
	// PolicyCorroborate holds a decreasing push until the next push also
	// reports a lower total; the newer of the two is adopted.
	PolicyCorroborate DecreasePolicy = "corroborate"
	// PolicyAccept adopts a decreasing push immediately.
	PolicyAccept DecreasePolicy = "accept"
)

// View is what a view renders. Version grows with every change.
type View struct {
	PollID  models.PollID
	State   ReconcilerState
	Stats   *models.StatsSnapshot
	Source  Source
	Err     error
	Version uint64
}

// StatsReconciler merges the initial REST read, live push events and the
// user's own submissions into one snapshot for one view.
//
// Rules:
//   - the initial REST read is adopted only if nothing else was adopted first
//     for the current poll (push supersedes REST);
//   - submission results and refetches never rewind the displayed total;
//   - a push with a lower total than a push/submission-derived display is
//     handled by the DecreasePolicy.
//
// Every poll change bumps an epoch; callbacks and REST responses of an older
// epoch are dropped.
type StatsReconciler struct {
	mgr     *StreamManager
	api     service.StatsAPI
	policy  DecreasePolicy
	log     *applogger.Logger
	metrics domrepo.Metrics

	mu       sync.Mutex
	pollID   models.PollID
	epoch    uint64
	cancel   context.CancelFunc
	listener *Listener
	state    ReconcilerState
	stats    *models.StatsSnapshot
	source   Source
	err      error
	held     *models.StatsSnapshot
	version  uint64
	onChange func(View)
	closed   bool
}

// ReconcilerOption configures StatsReconciler.
type ReconcilerOption func(*StatsReconciler)

func WithDecreasePolicy(p DecreasePolicy) ReconcilerOption {
	return func(r *StatsReconciler) {
		if p == PolicyAccept || p == PolicyCorroborate {
			r.policy = p
		}
	}
}

func WithReconcilerLogger(l *applogger.Logger) ReconcilerOption {
	return func(r *StatsReconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func WithReconcilerMetrics(m domrepo.Metrics) ReconcilerOption {
	return func(r *StatsReconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewStatsReconciler creates an idle reconciler bound to the shared manager.
func NewStatsReconciler(mgr *StreamManager, api service.StatsAPI, opts ...ReconcilerOption) *StatsReconciler {
	r := &StatsReconciler{
		mgr:     mgr,
		api:     api,
		policy:  PolicyCorroborate,
		log:     applogger.Nop(),
		metrics: domrepo.NopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(applogger.String("component", "stats_reconciler"))
	return r
}

// OnChange registers fn to be called after every change. fn runs on the
// goroutine that caused the change and must not block for long.
func (r *StatsReconciler) OnChange(fn func(View)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// View returns the current value.
func (r *StatsReconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *StatsReconciler) viewLocked() View {
	v := View{
		PollID:  r.pollID,
		State:   r.state,
		Source:  r.source,
		Err:     r.err,
		Version: r.version,
	}
	if r.stats != nil {
		s := r.stats.Clone()
		v.Stats = &s
	}
	return v
}

// changedLocked bumps the version and returns the notification to send once
// the lock is released. The notification is dropped if the view was closed
// or moved to another poll in the meantime.
func (r *StatsReconciler) changedLocked() func() {
	r.version++
	fn := r.onChange
	if fn == nil {
		return func() {}
	}
	v := r.viewLocked()
	epoch := r.epoch
	return func() {
		r.mu.Lock()
		live := !r.closed && r.epoch == epoch
		r.mu.Unlock()
		if live {
			fn(v)
		}
	}
}

// SetPollID points the view at id. The same id is a no-op; 0 returns to Idle
// and releases the stream if no one else listens. ctx bounds the initial REST
// read.
func (r *StatsReconciler) SetPollID(ctx context.Context, id models.PollID) error {
	if id < 0 {
		return models.ErrInvalidPollID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReconcilerClosed
	}
	if id == r.pollID {
		r.mu.Unlock()
		return nil
	}

	r.resetLocked()
	r.pollID = id

	if id == 0 {
		r.state = StateIdle
		notify := r.changedLocked()
		r.mu.Unlock()
		r.releaseStream()
		notify()
		return nil
	}

	r.state = StateLoading
	epoch := r.epoch
	r.listener = r.mgr.AddListener(func(s models.StatsSnapshot) { r.handlePush(epoch, s) })
	if err := r.mgr.Connect(id); err != nil {
		r.resetLocked()
		r.pollID = 0
		r.state = StateIdle
		r.err = err
		notify := r.changedLocked()
		r.mu.Unlock()
		notify()
		return fmt.Errorf("connect stream: %w", err)
	}

	fctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	notify := r.changedLocked()
	r.mu.Unlock()

	go r.fetchInitial(fctx, epoch, id)
	notify()
	return nil
}

// resetLocked drops everything tied to the current poll.
func (r *StatsReconciler) resetLocked() {
	r.epoch++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.listener != nil {
		r.mgr.RemoveListener(r.listener)
		r.listener = nil
	}
	r.stats, r.held = nil, nil
	r.source = SourceNone
	r.err = nil
}

func (r *StatsReconciler) releaseStream() {
	if r.mgr.ListenerCount() == 0 {
		r.mgr.Disconnect()
	}
}

func (r *StatsReconciler) fetchInitial(ctx context.Context, epoch uint64, id models.PollID) {
	s, err := r.api.FetchStats(ctx, id)

	r.mu.Lock()
	if epoch != r.epoch || r.closed {
		r.mu.Unlock()
		return
	}

	if err != nil {
		r.log.Error("initial stats fetch failed",
			applogger.Int64("poll_id", int64(id)),
			applogger.Error(err),
		)
		r.metrics.RecordError("stats_fetch")
		if r.stats != nil {
			// a push already filled the view
			r.mu.Unlock()
			return
		}
		r.state = StateFailed
		r.err = err
		notify := r.changedLocked()
		r.mu.Unlock()
		notify()
		return
	}

	if r.stats != nil {
		r.log.Debug("discarding initial REST snapshot, superseded",
			applogger.Int64("poll_id", int64(id)),
			applogger.String("source", string(r.source)),
		)
		r.mu.Unlock()
		return
	}
	notify := r.adoptLocked(s, SourceREST)
	r.mu.Unlock()
	notify()
}

func (r *StatsReconciler) handlePush(epoch uint64, s models.StatsSnapshot) {
	r.mu.Lock()
	if epoch != r.epoch || r.closed {
		r.mu.Unlock()
		return
	}

	if r.stats != nil && r.source != SourceREST && s.TotalVotes < r.stats.TotalVotes {
		r.log.Warn("pushed total decreased",
			applogger.Int64("poll_id", int64(r.pollID)),
			applogger.Int64("displayed", r.stats.TotalVotes),
			applogger.Int64("pushed", s.TotalVotes),
			applogger.String("policy", string(r.policy)),
		)
		r.metrics.RecordError("stats_decrease")

		if r.policy == PolicyCorroborate && r.held == nil {
			r.held = &s
			r.mu.Unlock()
			return
		}
	}

	r.held = nil
	notify := r.adoptLocked(s, SourcePush)
	r.mu.Unlock()
	notify()
}

func (r *StatsReconciler) adoptLocked(s models.StatsSnapshot, src Source) func() {
	s = s.WithPercentages()
	r.stats = &s
	r.source = src
	r.state = StateLive
	r.err = nil
	return r.changedLocked()
}

// adoptIfNotRewindLocked adopts s unless it would lower the displayed total.
func (r *StatsReconciler) adoptIfNotRewindLocked(s models.StatsSnapshot, src Source) (func(), bool) {
	if r.stats != nil && s.TotalVotes < r.stats.TotalVotes {
		r.log.Debug("discarding snapshot that would rewind the total",
			applogger.String("source", string(src)),
			applogger.Int64("displayed", r.stats.TotalVotes),
			applogger.Int64("received", s.TotalVotes),
		)
		return func() {}, false
	}
	return r.adoptLocked(s, src), true
}

func (r *StatsReconciler) current() (models.PollID, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, 0, ErrReconcilerClosed
	}
	if r.pollID == 0 {
		return 0, 0, ErrNoPoll
	}
	return r.pollID, r.epoch, nil
}

// RefetchAfterSubmit reads the stats again and shows them right away, unless
// they would rewind the displayed total. The next push replaces them.
func (r *StatsReconciler) RefetchAfterSubmit(ctx context.Context) error {
	id, epoch, err := r.current()
	if err != nil {
		return err
	}

	s, err := r.api.FetchStats(ctx, id)

	r.mu.Lock()
	if epoch != r.epoch || r.closed {
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		r.err = err
		notify := r.changedLocked()
		r.mu.Unlock()
		notify()
		r.log.Error("stats refetch failed", applogger.Int64("poll_id", int64(id)), applogger.Error(err))
		return fmt.Errorf("refetch stats: %w", err)
	}
	notify, _ := r.adoptIfNotRewindLocked(s, SourceRefetch)
	r.mu.Unlock()
	notify()
	return nil
}

// SubmitVote casts a vote for the current poll and shows the returned stats
// immediately. Failures are returned as is and leave the stream untouched.
func (r *StatsReconciler) SubmitVote(ctx context.Context, optionIDs ...int64) (models.StatsSnapshot, error) {
	id, epoch, err := r.current()
	if err != nil {
		return models.StatsSnapshot{}, err
	}

	s, err := r.api.SubmitVote(ctx, id, optionIDs)
	if err != nil {
		r.log.Warn("vote submission failed", applogger.Int64("poll_id", int64(id)), applogger.Error(err))
		return models.StatsSnapshot{}, err
	}
	s = s.WithPercentages()

	r.mu.Lock()
	if epoch != r.epoch || r.closed {
		r.mu.Unlock()
		return s, nil
	}
	notify, _ := r.adoptIfNotRewindLocked(s, SourceSubmit)
	r.mu.Unlock()
	notify()
	return s.Clone(), nil
}

// Close tears the view down: it stops listening, cancels the in-flight read
// and disconnects the stream when no other listener is left. No notification
// starts after Close returns; one already running may finish.
func (r *StatsReconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.resetLocked()
	r.onChange = nil
	r.mu.Unlock()

	r.releaseStream()
	return nil
}
