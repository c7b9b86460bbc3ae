package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagship/internal/sinks"
)

type fakeSink struct {
	sent []sinks.Message
}

func (f *fakeSink) Send(ctx context.Context, msg sinks.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newCaptureTestServer(t *testing.T, bus sinks.Sink) *Server {
	t.Helper()
	return NewServer(Deps{
		Logger:          zerolog.Nop(),
		Teams:           &fakeTeamResolver{token: "valid-token", teamID: 1, projectID: 1},
		FlagsLoader:     &fakeFlagsLoader{},
		PropsStore:      fakePropsStore{},
		GroupTypeLoader: fakeGroupTypeLoader{},
		Bus:             bus,
	})
}

func postCapture(t *testing.T, srv *Server, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleCaptureMissingToken(t *testing.T) {
	srv := newCaptureTestServer(t, &fakeSink{})
	body, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"distinct_id": "user-1"},
	})
	rec := postCapture(t, srv, "/e/", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleCaptureInvalidToken(t *testing.T) {
	srv := newCaptureTestServer(t, &fakeSink{})
	body, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"distinct_id": "user-1", "$token": "wrong-token"},
	})
	rec := postCapture(t, srv, "/e/", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleCaptureMissingDistinctID(t *testing.T) {
	srv := newCaptureTestServer(t, &fakeSink{})
	body, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"$token": "valid-token"},
	})
	rec := postCapture(t, srv, "/e/", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleCaptureSuccessRoutesToSink(t *testing.T) {
	bus := &fakeSink{}
	srv := newCaptureTestServer(t, bus)
	body, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"$token": "valid-token", "distinct_id": "user-1"},
	})
	rec := postCapture(t, srv, "/e/", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != float64(1) {
		t.Fatalf("expected status=1, got %#v", resp)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected exactly one message routed to sink, got %d", len(bus.sent))
	}
}

func TestHandleCaptureGzipBody(t *testing.T) {
	bus := &fakeSink{}
	srv := newCaptureTestServer(t, bus)

	raw, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"$token": "valid-token", "distinct_id": "user-1"},
	})
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	rec := postCapture(t, srv, "/e/?compression=gzip", buf.Bytes(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected exactly one message routed to sink, got %d", len(bus.sent))
	}
}

func TestHandleCaptureBase64Body(t *testing.T) {
	bus := &fakeSink{}
	srv := newCaptureTestServer(t, bus)

	raw, _ := json.Marshal(map[string]any{
		"event":      "pageview",
		"properties": map[string]any{"$token": "valid-token", "distinct_id": "user-1"},
	})
	encoded := []byte(base64.StdEncoding.EncodeToString(raw))

	rec := postCapture(t, srv, "/e/?compression=base64", encoded, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected exactly one message routed to sink, got %d", len(bus.sent))
	}
}

func TestHandleSnapshotCaptureInvalidSessionID(t *testing.T) {
	srv := newCaptureTestServer(t, &fakeSink{})
	body, _ := json.Marshal(map[string]any{
		"event": "$snapshot",
		"properties": map[string]any{
			"$token":         "valid-token",
			"distinct_id":    "user-1",
			"$session_id":    "",
			"$snapshot_data": []any{map[string]any{"type": 2}},
		},
	})
	rec := postCapture(t, srv, "/s/", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}
