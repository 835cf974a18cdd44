package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. Returning an error from BeforeHandle
// skips the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, error)
	After  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, km, err)
	}
}

type ctxKey string

// CtxEventID holds the event id taken from the "event_id" header.
const CtxEventID ctxKey = "kafka_event_id"

// EventIDHook copies the event_id header into the handler context.
func EventIDHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			if id := HeaderValue(km, "event_id"); id != "" {
				ctx = context.WithValue(ctx, CtxEventID, id)
			}
			return ctx, nil
		},
	}
}

// EventIDFromContext returns the id stored by EventIDHook, if any.
func EventIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CtxEventID).(string)
	return v
}

// HeaderValue returns the first header named key.
func HeaderValue(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// safeBefore runs BeforeHandle, turning a panic into an error.
func safeBefore(h ConsumerHook, ctx context.Context, km kafka.Message) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.BeforeHandle(ctx, km)
}

func safeAfter(h ConsumerHook, ctx context.Context, km kafka.Message, err error) {
	defer func() { _ = recover() }()
	h.AfterHandle(ctx, km, err)
}
