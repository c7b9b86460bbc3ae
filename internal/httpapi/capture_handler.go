package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/goflagship/internal/canonlog"
	"github.com/TimurManjosov/goflagship/internal/capture"
	"github.com/TimurManjosov/goflagship/internal/router"
	"github.com/TimurManjosov/goflagship/internal/sinks"
)

// handleCapture implements POST /e/, /capture/, /i/v0/e/ per spec §6.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, false)
}

// handleSnapshotCapture implements POST /s/, which additionally requires a
// valid $session_id and aggregates $snapshot_data items per §4.8 step 5.
func (s *Server) handleSnapshotCapture(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, true)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, isSnapshot bool) {
	ctx := r.Context()
	start := time.Now()

	raw, err := readBodyWithTimeout(r, s.maxBody(), s.timeoutOrDefault())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeBareError(w, http.StatusRequestTimeout, "body read timed out")
			return
		}
		if errors.Is(err, capture.ErrEventTooBig) {
			writeBareError(w, http.StatusRequestEntityTooLarge, "event exceeds payload size limit")
			return
		}
		writeBareError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	decoded, err := decodeMaybeCompressed(raw, r.URL.Query().Get("compression"), s.maxBody())
	if err != nil {
		if errors.Is(err, capture.ErrEventTooBig) {
			writeBareError(w, http.StatusRequestEntityTooLarge, "event exceeds payload size limit")
			return
		}
		writeBareError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rawEvents, err := capture.ParseBatch(decoded)
	if err != nil {
		writeBareError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	queryToken := r.URL.Query().Get("token")
	now := time.Now()

	var processed []capture.ProcessedEvent
	snapshotRaw := map[string][]any{}

	for _, re := range rawEvents {
		token, distinctID := capture.ExtractTokenAndDistinctID(re.Properties, re.Token, re.DistinctID, queryToken)
		if token == "" {
			writeBareError(w, http.StatusBadRequest, "missing token")
			return
		}
		if _, _, err := s.teams.ResolveToken(ctx, token); err != nil {
			writeBareError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if distinctID == "" && !isSnapshot {
			writeBareError(w, http.StatusBadRequest, "distinct_id is required")
			return
		}

		uuid, err := capture.AssignUUID(re.UUID)
		if err != nil {
			writeBareError(w, http.StatusInternalServerError, "failed to assign event id")
			return
		}

		eventTS := parseEventTime(re.Timestamp, now)
		sentAt := parseOptionalTime(re.SentAt)
		resolvedTS := capture.ResolveTimestamp(eventTS, derefTime(sentAt), now, sentAt == nil)

		historical, _ := re.Properties["historical_migration"].(bool)
		dataType := capture.ClassifyDataType(re.Event, historical)

		serialized, err := json.Marshal(re.Properties)
		if err != nil {
			writeBareError(w, http.StatusBadRequest, "malformed event properties")
			return
		}

		sessionID, _ := re.Properties["$session_id"].(string)
		if dataType == capture.SnapshotMain {
			if err := capture.ValidateSessionID(sessionID); err != nil {
				writeBareError(w, http.StatusBadRequest, "invalid session id")
				return
			}
			if items, ok := re.Properties["$snapshot_data"].([]any); ok {
				snapshotRaw[sessionID] = append(snapshotRaw[sessionID], items...)
			}
		}

		ip := clientIP(r)

		processed = append(processed, capture.ProcessedEvent{
			UUID:                uuid,
			DistinctID:          distinctID,
			Token:               token,
			SessionID:           sessionID,
			IP:                  ip,
			Timestamp:           resolvedTS,
			SentAt:              sentAt,
			Now:                 now,
			DataType:            dataType,
			EventName:           re.Event,
			HistoricalMigration: historical,
			SerializedData:      string(serialized),
		})
	}

	if len(snapshotRaw) > 0 {
		aggregated, err := capture.AggregateSnapshots(processed, snapshotRaw)
		if err != nil {
			writeBareError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		nonSnapshot := processed[:0:0]
		for _, e := range processed {
			if e.DataType != capture.SnapshotMain {
				nonSnapshot = append(nonSnapshot, e)
			}
		}
		processed = append(nonSnapshot, aggregated...)
	}

	var ingested, dropped int
	for _, e := range processed {
		route := router.RouteEvent(e, s.restrictions)
		if route.Dropped {
			dropped++
			continue
		}
		if s.bus == nil {
			continue
		}
		msg := sinks.Message{
			Topic:        route.Topic,
			PartitionKey: route.PartitionKey,
			Payload:      []byte(e.SerializedData),
			Token:        e.Token,
		}
		if err := s.bus.Send(ctx, msg); err != nil {
			var sinkErr *sinks.SinkError
			if errors.As(err, &sinkErr) && sinkErr.Kind == sinks.EventTooBig {
				writeBareError(w, http.StatusRequestEntityTooLarge, "event exceeds bus message size limit")
				return
			}
			writeBareError(w, http.StatusServiceUnavailable, "failed to enqueue event")
			return
		}
		ingested++
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": 1})

	var token string
	if len(processed) > 0 {
		token = processed[0].Token
	}
	canonlog.Emit(s.logger, canonlog.Line{
		RequestID:      middleware.GetReqID(r.Context()),
		RemoteIP:       clientIP(r),
		StartTime:      start,
		UserAgent:      r.UserAgent(),
		Token:          token,
		EventsIngested: ingested,
		EventsDropped:  dropped,
		HTTPStatus:     http.StatusOK,
	})
}

func readBodyWithTimeout(r *http.Request, maxBytes int, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(io.LimitReader(r.Body, int64(maxBytes)+1))
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.data) > maxBytes {
			return nil, capture.ErrEventTooBig
		}
		return res.data, nil
	}
}

func parseEventTime(raw string, now time.Time) time.Time {
	if raw == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return now
}

func parseOptionalTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
