package capture

import (
	"bytes"
	"compress/gzip"
	"testing"
	"time"
)

func TestDecodeBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte(`{"event":"$pageview"}`))
	gw.Close()

	decoded, err := DecodeBody(buf.Bytes(), false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded) != `{"event":"$pageview"}` {
		t.Fatalf("unexpected decoded body: %s", decoded)
	}
}

func TestDecodeBodyRaw(t *testing.T) {
	decoded, err := DecodeBody([]byte(`{"event":"x"}`), false, 0)
	if err != nil || string(decoded) != `{"event":"x"}` {
		t.Fatalf("unexpected result: %s, %v", decoded, err)
	}
}

func TestDecodeBodyTooBig(t *testing.T) {
	_, err := DecodeBody([]byte("0123456789"), false, 5)
	if err != ErrEventTooBig {
		t.Fatalf("expected ErrEventTooBig, got %v", err)
	}
}

func TestParseBatchSingleAndArray(t *testing.T) {
	events, err := ParseBatch([]byte(`{"event":"a"}`))
	if err != nil || len(events) != 1 {
		t.Fatalf("expected single event, got %v %v", events, err)
	}
	events, err = ParseBatch([]byte(`[{"event":"a"},{"event":"b"}]`))
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 events, got %v %v", events, err)
	}
}

func TestClassifyDataType(t *testing.T) {
	cases := map[string]DataType{
		"$snapshot":                  SnapshotMain,
		"$snapshot_items":            SnapshotMain,
		"$exception":                 ExceptionMain,
		"$$heatmap":                  HeatmapMain,
		"$$client_ingestion_warning": ClientIngestionWarning,
		"$pageview":                  AnalyticsMain,
	}
	for name, want := range cases {
		if got := ClassifyDataType(name, false); got != want {
			t.Errorf("ClassifyDataType(%q) = %v, want %v", name, got, want)
		}
	}
	if got := ClassifyDataType("$pageview", true); got != AnalyticsHistorical {
		t.Errorf("historical migration should classify as AnalyticsHistorical, got %v", got)
	}
}

func TestNormalizeDistinctIDTruncatesAndReplacesNUL(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := normalizeDistinctID(string(long))
	if len([]rune(got)) != maxDistinctIDLen {
		t.Fatalf("expected truncation to %d chars, got %d", maxDistinctIDLen, len([]rune(got)))
	}
	withNul := normalizeDistinctID("abc\x00def")
	if withNul != "abc�def" {
		t.Fatalf("expected NUL replaced with U+FFFD, got %q", withNul)
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID(""); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if err := ValidateSessionID("s1"); err != nil {
		t.Fatalf("unexpected error for valid session id: %v", err)
	}
	long := make([]byte, 71)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateSessionID(string(long)); err == nil {
		t.Fatalf("expected error for session id over 70 chars")
	}
	if err := ValidateSessionID("has spaces"); err == nil {
		t.Fatalf("expected error for non-alphanumeric-dash session id")
	}
}

func TestResolveTimestampDriftCorrection(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	eventTimestamp := time.Date(2024, 1, 1, 11, 59, 0, 0, time.UTC)
	sentAt := time.Date(2024, 1, 1, 11, 59, 30, 0, time.UTC)

	got := ResolveTimestamp(eventTimestamp, sentAt, now, false)
	want := now.Add(-30 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("expected drift-corrected timestamp %v, got %v", want, got)
	}
}

func TestAggregateSnapshotsConsolidatesBySession(t *testing.T) {
	events := []ProcessedEvent{
		{SessionID: "s1", DataType: SnapshotMain},
		{SessionID: "s1", DataType: SnapshotMain},
	}
	raw := map[string][]any{"s1": {"item1", "item2"}}
	out, err := AggregateSnapshots(events, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one consolidated event, got %d", len(out))
	}
}
