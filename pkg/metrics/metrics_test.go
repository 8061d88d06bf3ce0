package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := New(logger)

	if m == nil {
		t.Fatal("Expected non-nil Metrics")
	}

	// Verify all metric fields are initialized
	if m.acctEventsTotal == nil {
		t.Error("acctEventsTotal not initialized")
	}
	if m.sessionsActive == nil {
		t.Error("sessionsActive not initialized")
	}
	if m.sessionDuration == nil {
		t.Error("sessionDuration not initialized")
	}
	if m.retentionDeleted == nil {
		t.Error("retentionDeleted not initialized")
	}
	if m.retentionSweeps == nil {
		t.Error("retentionSweeps not initialized")
	}
	if m.storageRetryable == nil {
		t.Error("storageRetryable not initialized")
	}
}

func TestRegister(t *testing.T) {
	// Use a new registry for isolation
	reg := prometheus.NewRegistry()
	oldDefault := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = oldDefault }()

	logger, _ := zap.NewDevelopment()
	m := New(logger)

	if err := m.Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Register again should not fail (already registered is ignored)
	if err := m.Register(); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}
}

func TestRecorders(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := New(logger)

	// Recording must not panic even when unregistered.
	m.RecordAccountingEvent("start", "ok")
	m.RecordAccountingEvent("stop", "already_closed")
	m.SetActiveSessions(42)
	m.RecordSessionClosed(3600)
	m.RecordRetentionSweep(10, nil)
	m.RecordRetentionSweep(0, http.ErrServerClosed)
	m.RecordStorageRetryable()
}

func TestHandler(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := New(logger)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
}
