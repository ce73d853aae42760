package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"country-stats/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource dataset.Status

func (s staticSource) Status() dataset.Status { return dataset.Status(s) }

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		status dataset.Status
		want   string
	}{
		{"starting", dataset.Status{}, StatusStarting},
		{"healthy", dataset.Status{Loaded: true, Count: 250, LoadedAt: time.Now()}, StatusHealthy},
		{"degraded", dataset.Status{LastError: "unexpected status 502"}, StatusDegraded},
		{"healthy despite later error", dataset.Status{Loaded: true, LastError: "timeout"}, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewChecker(staticSource(tt.status), "test").Check()
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, "test", report.Version)
		})
	}
}

func TestHandler(t *testing.T) {
	h := NewChecker(staticSource(dataset.Status{LastError: "dial tcp: timeout"}), "1.2.3").Handler()

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "dial tcp: timeout", report.Dataset.LastError)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
