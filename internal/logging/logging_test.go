package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTransportSetsRequestID(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	client := &http.Client{Transport: NewTransport(nil)}
	resp, err := client.Get(ts.URL + "/api/v1/groups")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got == "" {
		t.Fatal("expected request id header to be set")
	}
	completed := logs.FilterMessage("backend request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected 1 completion entry, got %d", len(completed))
	}
	if completed[0].ContextMap()["request_id"] != got {
		t.Errorf("logged request id %v does not match header %q", completed[0].ContextMap()["request_id"], got)
	}
}

func TestTransportKeepsCallerRequestID(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(RequestIDHeader)
	}))
	defer ts.Close()

	SetLogger(zap.NewNop())
	defer SetLogger(nil)

	req, _ := http.NewRequest("GET", ts.URL, nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	resp, err := (&http.Client{Transport: NewTransport(nil)}).Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if got != "fixed-id" {
		t.Errorf("expected fixed-id, got %q", got)
	}
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	ctx := WithFields(context.Background(), zap.String("context_id", "g1"))
	WithContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["context_id"] != "g1" {
		t.Errorf("expected context_id field, got %v", entries[0].ContextMap())
	}
}

func TestSetLevelIgnoresGarbage(t *testing.T) {
	SetLevel("debug")
	if !globalLevel.Enabled(zap.DebugLevel) {
		t.Fatal("expected debug to be enabled")
	}
	SetLevel("nonsense")
	if !globalLevel.Enabled(zap.DebugLevel) {
		t.Error("invalid level must not change the current level")
	}
	SetLevel("info")
}
