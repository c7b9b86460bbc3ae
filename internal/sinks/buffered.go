package sinks

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// BufferedSink is the optional local queue used for disaster recovery
// (§4.10): messages are enqueued locally and a background task dequeues in
// bounded batches, forwarding to downstream and deleting on success. The
// queue is held in process memory only; queued messages do not survive a
// process restart.
type BufferedSink struct {
	downstream Sink
	batchSize  int

	mu    sync.Mutex
	queue *list.List

	stop chan struct{}
	done chan struct{}
}

// NewBufferedSink starts the background flush loop immediately.
func NewBufferedSink(downstream Sink, batchSize int, flushInterval time.Duration) *BufferedSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	b := &BufferedSink{
		downstream: downstream, batchSize: batchSize,
		queue: list.New(), stop: make(chan struct{}), done: make(chan struct{}),
	}
	go b.flushLoop(flushInterval)
	return b
}

// Send enqueues locally and always succeeds: the queue is an unbounded
// in-memory list, limited only by process memory.
func (b *BufferedSink) Send(ctx context.Context, msg Message) error {
	b.mu.Lock()
	b.queue.PushBack(msg)
	b.mu.Unlock()
	return nil
}

// SendBatch enqueues every message in order.
func (b *BufferedSink) SendBatch(ctx context.Context, msgs []Message) error {
	b.mu.Lock()
	for _, m := range msgs {
		b.queue.PushBack(m)
	}
	b.mu.Unlock()
	return nil
}

func (b *BufferedSink) flushLoop(interval time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			b.flushOnce(context.Background())
			return
		case <-ticker.C:
			b.flushOnce(context.Background())
		}
	}
}

func (b *BufferedSink) flushOnce(ctx context.Context) {
	batch := b.takeBatch()
	if len(batch) == 0 {
		return
	}
	if err := b.downstream.SendBatch(ctx, batch); err != nil {
		// Forwarding failed: put the batch back at the front of the queue
		// for the next flush attempt instead of dropping it.
		b.mu.Lock()
		for i := len(batch) - 1; i >= 0; i-- {
			b.queue.PushFront(batch[i])
		}
		b.mu.Unlock()
	}
}

func (b *BufferedSink) takeBatch() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var batch []Message
	for b.queue.Len() > 0 && len(batch) < b.batchSize {
		front := b.queue.Front()
		batch = append(batch, front.Value.(Message))
		b.queue.Remove(front)
	}
	return batch
}

// Close stops the flush loop after a final flush attempt.
func (b *BufferedSink) Close() {
	close(b.stop)
	<-b.done
}
