package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJobFailurePostsPayload(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.JobFailure(context.Background(), "snapshot", errors.New("redis: connection refused"))

	if got.Job != "snapshot" {
		t.Errorf("job = %q, want %q", got.Job, "snapshot")
	}
	if got.Source != "sportfolios-server" {
		t.Errorf("source = %q, want %q", got.Source, "sportfolios-server")
	}
	if got.Text == "" {
		t.Error("expected non-empty text")
	}
	if _, err := time.Parse(time.RFC3339, got.Time); err != nil {
		t.Errorf("time %q is not RFC3339: %v", got.Time, err)
	}
}

func TestJobFailureSurvivesServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(srv.URL, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Must not panic or propagate the failure.
	n.JobFailure(context.Background(), "valuation", errors.New("boom"))
}

func TestNilNotifierIsNoOp(t *testing.T) {
	t.Parallel()

	var n *Notifier
	n.JobFailure(context.Background(), "bot", errors.New("ignored"))
}
