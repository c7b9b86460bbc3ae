// Package canonlog emits one structured log line per request summarizing
// what happened, grounded on
// original_source/rust/feature-flags/src/handler/canonical_log.rs. It
// replaces the teacher's webhook-driven audit log for requests that don't
// mutate flag state (the flags/capture boundary has no admin mutation path).
package canonlog

import (
	"time"

	"github.com/rs/zerolog"
)

const maxFieldChars = 200

// Line is the canonical request-log record.
type Line struct {
	RequestID            string
	RemoteIP             string
	StartTime            time.Time
	UserAgent            string
	LibVersion           string
	Token                string
	DistinctID           string
	FlagsEvaluated       int
	FlagsEnabled         int
	FlagsDisabled        int
	EventsIngested       int
	EventsDropped        int
	QuotaLimited         bool
	RateLimited          bool
	HTTPStatus           int
	ErrorCode            string
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldChars {
		return s
	}
	return string(r[:maxFieldChars])
}

// Emit writes one structured event for the request: info level, or warn
// level when ErrorCode is set.
func Emit(logger zerolog.Logger, l Line) {
	event := logger.Info()
	if l.ErrorCode != "" {
		event = logger.Warn()
	}
	event.
		Str("request_id", l.RequestID).
		Str("remote_ip", l.RemoteIP).
		Dur("duration", time.Since(l.StartTime)).
		Str("user_agent", truncate(l.UserAgent)).
		Str("lib_version", l.LibVersion).
		Str("token", l.Token).
		Str("distinct_id", truncate(l.DistinctID)).
		Int("flags_evaluated", l.FlagsEvaluated).
		Int("flags_enabled", l.FlagsEnabled).
		Int("flags_disabled", l.FlagsDisabled).
		Int("events_ingested", l.EventsIngested).
		Int("events_dropped", l.EventsDropped).
		Bool("quota_limited", l.QuotaLimited).
		Bool("rate_limited", l.RateLimited).
		Int("http_status", l.HTTPStatus).
		Str("error_code", l.ErrorCode).
		Msg("request_complete")
}
