package sinks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (s *countingSink) Send(ctx context.Context, msg Message) error {
	s.calls.Add(1)
	return s.err
}
func (s *countingSink) SendBatch(ctx context.Context, msgs []Message) error {
	s.calls.Add(1)
	return s.err
}

type staticHealth struct{ healthy atomic.Bool }

func (h *staticHealth) PrimaryHealthy(ctx context.Context) bool { return h.healthy.Load() }

func TestFallbackSendsToPrimaryWhenHealthy(t *testing.T) {
	primary := &countingSink{}
	secondary := &countingSink{}
	registry := &staticHealth{}
	registry.healthy.Store(true)

	f := NewFallbackSink(primary, secondary, registry, time.Hour)
	defer f.Close()

	if err := f.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 0 {
		t.Fatalf("expected primary to receive the send")
	}
}

func TestFallbackFailsOverOnRetryableError(t *testing.T) {
	primary := &countingSink{err: &SinkError{Kind: Retryable, Err: errors.New("boom")}}
	secondary := &countingSink{}
	registry := &staticHealth{}
	registry.healthy.Store(true)

	f := NewFallbackSink(primary, secondary, registry, time.Hour)
	defer f.Close()

	if err := f.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("expected failover to succeed: %v", err)
	}
	if secondary.calls.Load() != 1 {
		t.Fatalf("expected secondary to receive the failed-over send")
	}
}

func TestFallbackSendsDirectToSecondaryWhenUnhealthy(t *testing.T) {
	primary := &countingSink{}
	secondary := &countingSink{}
	registry := &staticHealth{}
	registry.healthy.Store(false)

	f := NewFallbackSink(primary, secondary, registry, time.Hour)
	defer f.Close()

	if err := f.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls.Load() != 0 || secondary.calls.Load() != 1 {
		t.Fatalf("expected unhealthy primary to be bypassed")
	}
}
