package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/prometheus/client_golang/prometheus"
)

type recordingSubmitter struct {
	events []core.Event
}

func (s *recordingSubmitter) Submit(_ context.Context, event core.Event) error {
	s.events = append(s.events, event)
	return nil
}

func TestRouter_Health(t *testing.T) {
	fixed := time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC)
	router := newRouter(nil, nil, 0, func() time.Time { return fixed })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || body.Relay != "ready" || body.Timestamp != "2025-01-11T03:00:00Z" {
		t.Fatalf("unexpected health body %#v", body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_test_total", Help: "test counter"})
	registry.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	newRouter(nil, registry, 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relay_test_total 1") {
		t.Fatalf("expected counter in exposition, got %s", rec.Body.String())
	}
}

func TestRouter_Events(t *testing.T) {
	submitter := &recordingSubmitter{}
	receiver := inbound.NewReceiver(submitter)
	router := newRouter(receiver, nil, 0, nil)

	body := `{"kind":"message","channel_id":"C1","server":{"id":"S1","name":"Guild"},` +
		`"author":{"id":"U1","username":"alice"},"occurred_at":"2025-01-11T03:00:00Z","message_id":"M1","content":"hi"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(submitter.events) != 1 || submitter.events[0].ChannelID != "C1" {
		t.Fatalf("unexpected submitted events %#v", submitter.events)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /events, got %d", rec.Code)
	}
}
