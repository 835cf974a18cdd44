package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	applogger "PollPulse/pkg/logger"
)

var ErrPipelineFull = errors.New("vote pipeline: retry buffer full")

// VotePipeline sits between the poll service and the event bus. It validates
// vote events, publishes them and buffers the ones the bus rejects for
// background retry.
type VotePipeline struct {
	pub        domrepo.VotePublisher
	metrics    domrepo.Metrics
	log        *applogger.Logger
	bufSize    int
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh  chan *models.VoteEvent
	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*VotePipeline)

// WithBufferSize sets how many events wait for retry while the bus is down.
func WithBufferSize(n int) PipelineOption {
	return func(p *VotePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *VotePipeline) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *VotePipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewVotePipeline(pub domrepo.VotePublisher, metrics domrepo.Metrics, opts ...PipelineOption) *VotePipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	p := &VotePipeline{
		pub:        pub,
		metrics:    metrics,
		log:        applogger.Nop(),
		bufSize:    1000,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.VoteEvent, p.bufSize)
	return p
}

// Start launches the retry loop.
func (p *VotePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.retryLoop(ctx)
}

func (p *VotePipeline) retryLoop(ctx context.Context) {
	defer close(p.done)
	backoff := p.backoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case ev := <-p.bufCh:
			if err := p.pub.PublishVote(ctx, ev); err != nil {
				p.metrics.RecordError("pipeline_retry")
				p.log.Warn("vote event retry failed",
					applogger.String("event_id", ev.EventID),
					applogger.Duration("backoff_ms", backoff),
					applogger.Error(err),
				)
				p.requeue(ev)
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
				if backoff *= 2; backoff > p.backoffMax {
					backoff = p.backoffMax
				}
				continue
			}
			backoff = p.backoffMin
		}
	}
}

func (p *VotePipeline) requeue(ev *models.VoteEvent) {
	select {
	case p.bufCh <- ev:
	default:
		p.metrics.RecordError("pipeline_buffer_drop")
		p.log.Error("vote event dropped, retry buffer full", applogger.String("event_id", ev.EventID))
	}
}

// Stop ends the retry loop. Events still buffered are reported and dropped.
func (p *VotePipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("vote pipeline stopped with pending events", applogger.Int("pending", n))
	}
	return nil
}

// Pending reports how many events wait for retry.
func (p *VotePipeline) Pending() int { return len(p.bufCh) }

// Process validates ev and publishes it. A publish failure buffers the event
// and returns nil; only a full buffer is an error.
func (p *VotePipeline) Process(ctx context.Context, ev *models.VoteEvent) error {
	start := time.Now()
	if err := validateVoteEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	if err := p.pub.PublishVote(ctx, ev); err != nil {
		p.metrics.RecordError("pipeline_publish")
		select {
		case p.bufCh <- ev:
			p.log.Warn("vote event buffered for retry",
				applogger.String("event_id", ev.EventID),
				applogger.Int("pending", len(p.bufCh)),
				applogger.Error(err),
			)
			return nil
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			return fmt.Errorf("%w: %v", ErrPipelineFull, err)
		}
	}
	p.metrics.RecordLatency("pipeline_publish", time.Since(start).Seconds())
	return nil
}

func validateVoteEvent(ev *models.VoteEvent) error {
	switch {
	case ev == nil:
		return fmt.Errorf("vote event nil")
	case ev.EventID == "":
		return fmt.Errorf("vote event id empty")
	case !ev.PollID.Valid():
		return fmt.Errorf("vote event poll id invalid: %d", ev.PollID)
	case len(ev.OptionIDs) == 0:
		return fmt.Errorf("vote event has no options")
	case ev.CastAt.IsZero():
		return fmt.Errorf("vote event cast_at missing")
	}
	return nil
}
