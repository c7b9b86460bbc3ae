// Package sinks implements the bus/fallback/buffered/object-store sinks of
// spec §4.10. No Kafka (or other broker) client exists anywhere in the
// example retrieval pack, so the Bus sink is built on Redis Streams
// (github.com/redis/go-redis/v9) instead — see DESIGN.md for the
// justification. Partition-key locality is preserved via a CRC32 shard
// selector in place of murmur2_random.
package sinks

import "context"

// ErrorKind classifies a sink failure, per spec §4.10/§7.
type ErrorKind int

const (
	Retryable ErrorKind = iota
	NonRetryable
	EventTooBig
)

// SinkError wraps an error with its retry classification.
type SinkError struct {
	Kind ErrorKind
	Err  error
}

func (e *SinkError) Error() string { return e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// Message is the minimal shape a sink needs to publish an event: the
// serialized payload plus the routing decision from internal/router.
type Message struct {
	Topic        string
	PartitionKey string
	Payload      []byte
	Token        string
}

// Sink is the common interface every sink implementation satisfies.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	SendBatch(ctx context.Context, msgs []Message) error
}
