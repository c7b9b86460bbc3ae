package sinks

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"sync"
	"time"
)

// ObjectPutter abstracts the object-store write call (e.g. an S3 PutObject);
// kept minimal so this sink has no hard dependency on a specific cloud SDK.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte) error
}

// ObjectStoreSink aggregates events into a per-host .jsonl.gz object under a
// time-partitioned path, flushing on FlushInterval or MaxBufferSize,
// whichever comes first, with up to 3 retries (§4.10).
type ObjectStoreSink struct {
	putter        ObjectPutter
	hostname      string
	flushInterval time.Duration
	maxBufferSize int

	mu  sync.Mutex
	buf bytes.Buffer

	stop chan struct{}
	done chan struct{}
}

// NewObjectStoreSink starts the periodic flush loop immediately.
func NewObjectStoreSink(putter ObjectPutter, hostname string, flushInterval time.Duration, maxBufferSize int) *ObjectStoreSink {
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	if maxBufferSize <= 0 {
		maxBufferSize = 8 << 20
	}
	s := &ObjectStoreSink{
		putter: putter, hostname: hostname,
		flushInterval: flushInterval, maxBufferSize: maxBufferSize,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *ObjectStoreSink) Send(ctx context.Context, msg Message) error {
	return s.SendBatch(ctx, []Message{msg})
}

func (s *ObjectStoreSink) SendBatch(ctx context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.buf.Write(m.Payload)
		s.buf.WriteByte('\n')
	}
	if s.buf.Len() >= s.maxBufferSize {
		return s.flushLocked(ctx)
	}
	return nil
}

func (s *ObjectStoreSink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			_ = s.flushLocked(context.Background())
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.flushLocked(context.Background())
			s.mu.Unlock()
		}
	}
}

// flushLocked must be called with s.mu held.
func (s *ObjectStoreSink) flushLocked(ctx context.Context) error {
	if s.buf.Len() == 0 {
		return nil
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(s.buf.Bytes()); err != nil {
		w.Close()
		return fmt.Errorf("sinks: gzip object: %w", err)
	}
	w.Close()

	key := fmt.Sprintf("%s/%s-%d.jsonl.gz", time.Now().UTC().Format("2006/01/02/15"), s.hostname, time.Now().UnixNano())

	var err error
	for attempt := 0; attempt <= 3; attempt++ { // first try plus up to 3 retries
		if err = s.putter.PutObject(ctx, key, gz.Bytes()); err == nil {
			s.buf.Reset()
			return nil
		}
	}
	return fmt.Errorf("sinks: put object after retries: %w", err)
}

// Close stops the flush loop after a final flush attempt.
func (s *ObjectStoreSink) Close() {
	close(s.stop)
	<-s.done
}
