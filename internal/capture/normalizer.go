// Package capture implements the Event Normalizer: body decoding, singleton
// vs batch parsing, event classification, and snapshot aggregation, per
// spec §4.8.
package capture

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DataType classifies a processed event for routing, per spec §3.
type DataType string

const (
	AnalyticsMain           DataType = "analytics_main"
	AnalyticsHistorical     DataType = "analytics_historical"
	SnapshotMain            DataType = "snapshot_main"
	ExceptionMain           DataType = "exception_main"
	HeatmapMain             DataType = "heatmap_main"
	ClientIngestionWarning  DataType = "client_ingestion_warning"
)

// Errors surfaced to the HTTP boundary, matching spec §7's client-input taxonomy.
var (
	ErrEventTooBig          = errors.New("capture: event exceeds payload size limit")
	ErrBodyReadTimeout      = errors.New("capture: body read timed out")
	ErrRequestDecoding      = errors.New("capture: malformed request body")
	ErrMissingDistinctID    = errors.New("capture: distinct_id is required")
	ErrInvalidSessionID     = errors.New("capture: invalid session id")
)

// RawEvent is the wire shape of a single captured event.
type RawEvent struct {
	Token      string         `json:"-"`
	DistinctID string         `json:"-"`
	UUID       string         `json:"uuid,omitempty"`
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Offset     *float64       `json:"offset,omitempty"`
	SentAt     string         `json:"sent_at,omitempty"`
}

// ProcessedEvent is the normalized internal record, per spec §3.
type ProcessedEvent struct {
	UUID                 string
	DistinctID           string
	Token                string
	SessionID            string
	IP                    string
	Timestamp            time.Time
	SentAt               *time.Time
	Now                  time.Time
	DataType             DataType
	EventName            string
	ForceOverflow        bool
	SkipPersonProcessing bool
	RedirectToDLQ        bool
	HistoricalMigration  bool
	IsCookielessMode     bool
	SerializedData       string
}

// Key mirrors the original ProcessedEvent.key() convention for log correlation.
func (e ProcessedEvent) Key() string { return e.Token + ":" + e.DistinctID }

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

const maxDistinctIDLen = 200

// DecodeBody implements step 1 of §4.8: gzip / raw / base64 autodetection,
// with a size limit enforced via the provided maxBytes.
func DecodeBody(body []byte, contentEncodingGzip bool, maxBytes int) ([]byte, error) {
	if maxBytes > 0 && len(body) > maxBytes {
		return nil, ErrEventTooBig
	}

	if contentEncodingGzip || isGzipMagic(body) {
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestDecoding, err)
		}
		defer r.Close()
		limited := io.LimitReader(r, int64(maxBytesOrDefault(maxBytes))+1)
		decoded, err := io.ReadAll(limited)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestDecoding, err)
		}
		if maxBytes > 0 && len(decoded) > maxBytes {
			return nil, ErrEventTooBig
		}
		return decoded, nil
	}

	if !utf8.Valid(body) || !looksLikeJSON(body) {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body))); err == nil {
			return decoded, nil
		}
	}

	return body, nil
}

func maxBytesOrDefault(maxBytes int) int {
	if maxBytes <= 0 {
		return 64 << 20
	}
	return maxBytes
}

func isGzipMagic(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1F && b[1] == 0x8B
}

func looksLikeJSON(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// ParseBatch implements step 2: a body is either a single object or an array.
func ParseBatch(decoded []byte) ([]RawEvent, error) {
	trimmed := bytes.TrimSpace(decoded)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrRequestDecoding)
	}

	if trimmed[0] == '[' {
		var events []RawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestDecoding, err)
		}
		return events, nil
	}

	var single RawEvent
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestDecoding, err)
	}
	return []RawEvent{single}, nil
}

// ExtractTokenAndDistinctID normalizes identifying fields per step 3:
// NUL -> U+FFFD, clamp to 200 chars.
func ExtractTokenAndDistinctID(props map[string]any, topLevelToken, topLevelDistinctID, queryToken string) (string, string) {
	token := topLevelToken
	if token == "" {
		token = stringProp(props, "$token", "api_key")
	}
	if token == "" {
		token = queryToken
	}

	distinctID := topLevelDistinctID
	if distinctID == "" {
		distinctID = stringProp(props, "$distinct_id", "distinct_id")
	}
	distinctID = normalizeDistinctID(distinctID)

	return token, distinctID
}

func stringProp(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func normalizeDistinctID(id string) string {
	id = strings.ReplaceAll(id, "\x00", "�")
	runes := []rune(id)
	if len(runes) > maxDistinctIDLen {
		runes = runes[:maxDistinctIDLen]
	}
	return string(runes)
}

// ClassifyDataType implements the name-based classification in spec §3.
func ClassifyDataType(eventName string, historicalMigration bool) DataType {
	switch {
	case strings.HasPrefix(eventName, "$snapshot"):
		return SnapshotMain
	case eventName == "$exception":
		return ExceptionMain
	case eventName == "$$heatmap":
		return HeatmapMain
	case eventName == "$$client_ingestion_warning":
		return ClientIngestionWarning
	case historicalMigration:
		return AnalyticsHistorical
	default:
		return AnalyticsMain
	}
}

// AssignUUID returns raw.UUID if present, otherwise a fresh time-ordered UUIDv7.
func AssignUUID(raw string) (string, error) {
	if raw != "" {
		return raw, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("capture: generate uuid: %w", err)
	}
	return id.String(), nil
}

// ResolveTimestamp implements the drift-correcting clock logic of step 4:
// when sent_at is present and ignore_sent_at is false, the event timestamp is
// corrected by (now - (sent_at - event_sent_at)).
func ResolveTimestamp(eventTimestamp, sentAt, now time.Time, ignoreSentAt bool) time.Time {
	if sentAt.IsZero() || ignoreSentAt || eventTimestamp.IsZero() {
		if eventTimestamp.IsZero() {
			return now
		}
		return eventTimestamp
	}
	drift := sentAt.Sub(eventTimestamp)
	return now.Add(-drift)
}

// ValidateSessionID rejects missing, overlong, or non-alphanumeric-dash ids.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: missing $session_id", ErrInvalidSessionID)
	}
	if len(sessionID) > 70 {
		return fmt.Errorf("%w: longer than 70 chars", ErrInvalidSessionID)
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: must be alphanumeric-plus-dash", ErrInvalidSessionID)
	}
	return nil
}

// AggregateSnapshots implements §4.8 step 5: consolidates all $snapshot_data
// items within a batch into one event per session_id.
func AggregateSnapshots(events []ProcessedEvent, rawSnapshotData map[string][]any) ([]ProcessedEvent, error) {
	bySession := map[string][]any{}
	order := []string{}
	template := map[string]ProcessedEvent{}

	for _, e := range events {
		if e.DataType != SnapshotMain {
			continue
		}
		if err := ValidateSessionID(e.SessionID); err != nil {
			return nil, err
		}
		if _, seen := template[e.SessionID]; !seen {
			order = append(order, e.SessionID)
			template[e.SessionID] = e
			bySession[e.SessionID] = rawSnapshotData[e.SessionID]
		}
	}

	out := make([]ProcessedEvent, 0, len(order))
	for _, sessionID := range order {
		agg := template[sessionID]
		payload, err := json.Marshal(map[string]any{"$snapshot_items": bySession[sessionID]})
		if err != nil {
			return nil, fmt.Errorf("capture: marshal aggregated snapshot: %w", err)
		}
		agg.SerializedData = string(payload)
		out = append(out, agg)
	}
	return out, nil
}
