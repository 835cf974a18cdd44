package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/service/stream"
)

type reconcilerEnv struct {
	factory *fakeFactory
	mgr     *StreamManager
	api     *fakeAPI
	r       *StatsReconciler
}

func newReconcilerEnv(t *testing.T, opts ...ReconcilerOption) *reconcilerEnv {
	t.Helper()
	f := newFakeFactory()
	m := NewStreamManager(f.New, WithReconnectDelay(time.Hour))
	api := newFakeAPI()
	r := NewStatsReconciler(m, api, opts...)
	t.Cleanup(func() {
		_ = r.Close()
		_ = m.Close()
	})
	return &reconcilerEnv{factory: f, mgr: m, api: api, r: r}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *reconcilerEnv) waitSource(t *testing.T, src Source) View {
	t.Helper()
	var v View
	eventually(t, "source "+string(src), func() bool {
		v = e.r.View()
		return v.Source == src
	})
	return v
}

func (e *reconcilerEnv) setGate(ch chan struct{}) {
	e.api.mu.Lock()
	e.api.gate = ch
	e.api.mu.Unlock()
}

func TestReconcilerRESTThenPush(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 4, 6))

	if err := e.r.SetPollID(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if st := e.r.View().State; st != StateLoading && st != StateLive {
		t.Fatalf("state after SetPollID = %s", st)
	}

	v := e.waitSource(t, SourceREST)
	if v.State != StateLive || v.Stats.TotalVotes != 10 {
		t.Fatalf("REST view = %+v", v)
	}
	if got := v.Stats.Options[1].Percentage; got != 60 {
		t.Fatalf("option 2 percentage = %v", got)
	}

	tr := e.factory.last()
	tr.open()
	tr.emit(stream.EventUpdate, snap(7, 5, 7))

	v = e.r.View()
	if v.Source != SourcePush || v.Stats.TotalVotes != 12 {
		t.Fatalf("after push: %+v", v)
	}
}

func TestReconcilerPushSupersedesLateREST(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1, 1))
	e.setGate(make(chan struct{}))

	if err := e.r.SetPollID(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	e.factory.last().emit(stream.EventInitial, snap(7, 5, 7))

	v := e.r.View()
	if v.Source != SourcePush || v.Stats.TotalVotes != 12 {
		t.Fatalf("after push: %+v", v)
	}

	// deliver the REST answer for the current epoch after the push
	e.setGate(nil)
	e.r.mu.Lock()
	epoch := e.r.epoch
	e.r.mu.Unlock()
	e.r.fetchInitial(context.Background(), epoch, 7)

	v = e.r.View()
	if v.Source != SourcePush || v.Stats.TotalVotes != 12 {
		t.Fatalf("late REST rewound the view: %+v", v)
	}
}

func TestReconcilerEndToEndSubmission(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 0, 0))
	e.api.afterSubmit[7] = snap(7, 1, 0)

	if err := e.r.SetPollID(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	e.waitSource(t, SourceREST)

	tr := e.factory.last()
	tr.open()
	tr.emit(stream.EventInitial, snap(7, 0, 0))
	if v := e.r.View(); v.Source != SourcePush || v.Stats.TotalVotes != 0 {
		t.Fatalf("after initial: %+v", v)
	}

	res, err := e.r.SubmitVote(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalVotes != 1 {
		t.Fatalf("submission result = %+v", res)
	}
	v := e.r.View()
	if v.Source != SourceSubmit || v.Stats.TotalVotes != 1 {
		t.Fatalf("submission not adopted: %+v", v)
	}

	tr.emit(stream.EventUpdate, snap(7, 1, 0))
	v = e.r.View()
	if v.Source != SourcePush {
		t.Fatalf("update not adopted: %+v", v)
	}
	o, ok := v.Stats.Option(1)
	if !ok || o.Percentage != 100.00 || o.Count != 1 {
		t.Fatalf("option 1 = %+v", o)
	}
	if o2, _ := v.Stats.Option(2); o2.Percentage != 0 {
		t.Fatalf("option 2 = %+v", o2)
	}

	if len(e.api.submitted) != 1 || e.api.submitted[0][0] != 1 {
		t.Fatalf("submitted = %v", e.api.submitted)
	}
}

func TestReconcilerSubmitFailureLeavesView(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 2, 2))
	e.api.submitErr = models.ErrDuplicateVote

	_ = e.r.SetPollID(context.Background(), 7)
	before := e.waitSource(t, SourceREST)

	_, err := e.r.SubmitVote(context.Background(), 1)
	if !errors.Is(err, models.ErrDuplicateVote) {
		t.Fatalf("err = %v", err)
	}
	after := e.r.View()
	if after.Version != before.Version || after.Source != SourceREST {
		t.Fatalf("view changed on failed submit: %+v", after)
	}
	if !e.factory.last().isOpen() {
		t.Fatal("stream closed by failed submit")
	}
}

func TestReconcilerNoRewindOnSubmitOrRefetch(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1, 1))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)

	e.factory.last().emit(stream.EventUpdate, snap(7, 5, 5))

	// the submission answer lags behind the stream
	e.api.afterSubmit[7] = snap(7, 4, 5)
	if _, err := e.r.SubmitVote(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if v := e.r.View(); v.Source != SourcePush || v.Stats.TotalVotes != 10 {
		t.Fatalf("submission rewound: %+v", v)
	}

	e.api.set(snap(7, 3, 3))
	if err := e.r.RefetchAfterSubmit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v := e.r.View(); v.Source != SourcePush || v.Stats.TotalVotes != 10 {
		t.Fatalf("refetch rewound: %+v", v)
	}

	e.api.set(snap(7, 6, 5))
	if err := e.r.RefetchAfterSubmit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v := e.r.View(); v.Source != SourceRefetch || v.Stats.TotalVotes != 11 {
		t.Fatalf("refetch not adopted: %+v", v)
	}
}

func TestReconcilerDecreaseCorroborate(t *testing.T) {
	e := newReconcilerEnv(t, WithDecreasePolicy(PolicyCorroborate))
	e.api.set(snap(7, 0))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)
	tr := e.factory.last()

	tr.emit(stream.EventUpdate, snap(7, 5))
	tr.emit(stream.EventUpdate, snap(7, 3))
	if v := e.r.View(); v.Stats.TotalVotes != 5 {
		t.Fatalf("single decrease adopted: %+v", v)
	}

	// a non-decreasing event clears the hold
	tr.emit(stream.EventUpdate, snap(7, 6))
	tr.emit(stream.EventUpdate, snap(7, 4))
	if v := e.r.View(); v.Stats.TotalVotes != 6 {
		t.Fatalf("hold not cleared: %+v", v)
	}

	tr.emit(stream.EventUpdate, snap(7, 2))
	if v := e.r.View(); v.Stats.TotalVotes != 2 || v.Source != SourcePush {
		t.Fatalf("corroborated decrease not adopted: %+v", v)
	}
}

func TestReconcilerDecreaseAccept(t *testing.T) {
	e := newReconcilerEnv(t, WithDecreasePolicy(PolicyAccept))
	e.api.set(snap(7, 0))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)
	tr := e.factory.last()

	tr.emit(stream.EventUpdate, snap(7, 5))
	tr.emit(stream.EventUpdate, snap(7, 3))
	if v := e.r.View(); v.Stats.TotalVotes != 3 {
		t.Fatalf("accept policy held the decrease: %+v", v)
	}
}

func TestReconcilerPushBelowRESTIsAdopted(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 9))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)

	e.factory.last().emit(stream.EventInitial, snap(7, 8))
	if v := e.r.View(); v.Source != SourcePush || v.Stats.TotalVotes != 8 {
		t.Fatalf("push did not supersede REST: %+v", v)
	}
}

func TestReconcilerFailedThenPush(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.fetchErr = errors.New("boom")
	_ = e.r.SetPollID(context.Background(), 7)

	var v View
	eventually(t, "failed state", func() bool {
		v = e.r.View()
		return v.State == StateFailed
	})
	if v.Err == nil || v.Stats != nil {
		t.Fatalf("failed view = %+v", v)
	}

	e.factory.last().emit(stream.EventInitial, snap(7, 1, 2))
	v = e.r.View()
	if v.State != StateLive || v.Err != nil || v.Stats.TotalVotes != 3 {
		t.Fatalf("push did not recover: %+v", v)
	}
}

func TestReconcilerSwitchPollDropsOldEpoch(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	e.api.set(snap(8, 2))

	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)
	old := e.factory.last()

	if err := e.r.SetPollID(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if e.mgr.PollID() != 8 || e.mgr.ListenerCount() != 1 {
		t.Fatalf("manager poll=%d listeners=%d", e.mgr.PollID(), e.mgr.ListenerCount())
	}

	old.emit(stream.EventUpdate, snap(7, 50))
	v := e.waitSource(t, SourceREST)
	if v.PollID != 8 || v.Stats.TotalVotes != 2 {
		t.Fatalf("view = %+v", v)
	}

	// a stale REST answer for the old epoch is dropped
	e.r.fetchInitial(context.Background(), 1, 7)
	if v := e.r.View(); v.PollID != 8 || v.Stats.TotalVotes != 2 {
		t.Fatalf("stale REST adopted: %+v", v)
	}
}

func TestReconcilerSamePollIsNoop(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	_ = e.r.SetPollID(context.Background(), 7)
	v1 := e.waitSource(t, SourceREST)

	_ = e.r.SetPollID(context.Background(), 7)
	if v2 := e.r.View(); v2.Version != v1.Version {
		t.Fatalf("same id changed the view: %d -> %d", v1.Version, v2.Version)
	}
	if e.factory.count() != 1 {
		t.Fatalf("transports = %d", e.factory.count())
	}
}

func TestReconcilerIdleReleasesStream(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)

	if err := e.r.SetPollID(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	v := e.r.View()
	if v.State != StateIdle || v.Stats != nil {
		t.Fatalf("idle view = %+v", v)
	}
	if e.mgr.PollID() != 0 || len(e.factory.openTransports()) != 0 {
		t.Fatal("stream still open after going idle")
	}
	if err := e.r.SetPollID(context.Background(), -1); !errors.Is(err, models.ErrInvalidPollID) {
		t.Fatalf("negative id err = %v", err)
	}
	if _, err := e.r.SubmitVote(context.Background(), 1); !errors.Is(err, ErrNoPoll) {
		t.Fatalf("submit while idle err = %v", err)
	}
}

func TestReconcilerCloseKeepsSharedStream(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	other := e.mgr.AddListener(func(models.StatsSnapshot) {})

	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)

	changes := 0
	e.r.OnChange(func(View) { changes++ })
	if err := e.r.Close(); err != nil {
		t.Fatal(err)
	}
	if e.mgr.PollID() != 7 || len(e.factory.openTransports()) != 1 {
		t.Fatal("closing one view tore down a shared stream")
	}

	e.factory.last().emit(stream.EventUpdate, snap(7, 9))
	if changes != 0 {
		t.Fatalf("OnChange called %d times after Close", changes)
	}
	if err := e.r.SetPollID(context.Background(), 8); !errors.Is(err, ErrReconcilerClosed) {
		t.Fatalf("SetPollID after Close err = %v", err)
	}

	e.mgr.RemoveListener(other)
}

func TestReconcilerCloseDisconnectsLastListener(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	e.setGate(make(chan struct{}))
	_ = e.r.SetPollID(context.Background(), 7)

	_ = e.r.Close()
	_ = e.r.Close()
	if e.mgr.PollID() != 0 || len(e.factory.openTransports()) != 0 {
		t.Fatal("stream left open after last view closed")
	}
	if v := e.r.View(); v.Stats != nil {
		t.Fatalf("view kept data after Close: %+v", v)
	}
}

func TestReconcilerPendingNotifyDroppedAfterClose(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(7, 1))
	_ = e.r.SetPollID(context.Background(), 7)
	e.waitSource(t, SourceREST)

	changes := 0
	e.r.OnChange(func(View) { changes++ })

	// a push that was adopted just before Close and notifies just after
	e.r.mu.Lock()
	notify := e.r.adoptLocked(snap(7, 2), SourcePush)
	e.r.mu.Unlock()
	_ = e.r.Close()
	notify()

	if changes != 0 {
		t.Fatalf("OnChange called %d times after Close", changes)
	}
}

func TestReconcilerConnectFailureCanRetry(t *testing.T) {
	e := newReconcilerEnv(t)
	e.api.set(snap(3, 1, 1))
	e.factory.failOpens(errors.New("dial refused"))

	if err := e.r.SetPollID(context.Background(), 3); err == nil {
		t.Fatal("SetPollID should report the connect failure")
	}
	v := e.r.View()
	if v.State != StateIdle || v.PollID != 0 || v.Err == nil {
		t.Fatalf("view after failed connect = %+v", v)
	}
	if e.mgr.ListenerCount() != 0 {
		t.Fatalf("listener left registered: %d", e.mgr.ListenerCount())
	}

	e.factory.failOpens(nil)
	if err := e.r.SetPollID(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	v = e.waitSource(t, SourceREST)
	if v.PollID != 3 || v.Stats.TotalVotes != 2 {
		t.Fatalf("view after retry = %+v", v)
	}
	if !e.factory.last().isOpen() {
		t.Fatal("retry did not open a transport")
	}
}
