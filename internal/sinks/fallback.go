package sinks

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// HealthRegistry reports whether the primary sink's downstream dependency is
// currently healthy, polled by FallbackSink's background task.
type HealthRegistry interface {
	PrimaryHealthy(ctx context.Context) bool
}

// FallbackSink composes a primary and secondary Sink, grounded on
// original_source/rust/capture/src/sinks/fallback.rs. A background task
// polls HealthRegistry every pollInterval; dispatch decisions are lock-free
// via an atomic bool so the hot path never blocks on the health check.
type FallbackSink struct {
	primary   Sink
	secondary Sink
	healthy   atomic.Bool
	registry  HealthRegistry

	stop chan struct{}
	done chan struct{}
}

// NewFallbackSink starts the health-polling background task immediately.
func NewFallbackSink(primary, secondary Sink, registry HealthRegistry, pollInterval time.Duration) *FallbackSink {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	f := &FallbackSink{
		primary: primary, secondary: secondary, registry: registry,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), pollInterval/2)
	f.healthy.Store(registry.PrimaryHealthy(ctx))
	cancel()
	go f.pollHealth(pollInterval)
	return f
}

func (f *FallbackSink) pollHealth(interval time.Duration) {
	defer close(f.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval/2)
			healthy := f.registry.PrimaryHealthy(ctx)
			cancel()
			f.healthy.Store(healthy)
		}
	}
}

// Healthy reports the last-polled primary health state, for external
// metrics exporters.
func (f *FallbackSink) Healthy() bool { return f.healthy.Load() }

// Close stops the background health poller and waits for it to exit.
func (f *FallbackSink) Close() {
	close(f.stop)
	<-f.done
}

// Send dispatches to secondary directly when the primary is marked unhealthy;
// otherwise it tries primary first and fails over on a Retryable error.
func (f *FallbackSink) Send(ctx context.Context, msg Message) error {
	if !f.healthy.Load() {
		return f.secondary.Send(ctx, msg)
	}
	err := f.primary.Send(ctx, msg)
	if err == nil {
		return nil
	}
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) && sinkErr.Kind == Retryable {
		return f.secondary.Send(ctx, msg)
	}
	return err
}

// SendBatch applies the same failover policy per-batch as Send does per-event.
func (f *FallbackSink) SendBatch(ctx context.Context, msgs []Message) error {
	if !f.healthy.Load() {
		return f.secondary.SendBatch(ctx, msgs)
	}
	err := f.primary.SendBatch(ctx, msgs)
	if err == nil {
		return nil
	}
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) && sinkErr.Kind == Retryable {
		return f.secondary.SendBatch(ctx, msgs)
	}
	return err
}
