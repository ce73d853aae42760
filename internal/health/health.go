package health

import (
	"encoding/json"
	"net/http"
	"time"

	"country-stats/internal/dataset"

	log "github.com/sirupsen/logrus"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusStarting = "starting"
)

// StatusSource reports the state of the dataset
type StatusSource interface {
	Status() dataset.Status
}

// Report is the JSON body of the health endpoint
type Report struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Dataset   dataset.Status `json:"dataset"`
}

// Checker derives service health from the dataset status
type Checker struct {
	source    StatusSource
	version   string
	startTime time.Time
}

func NewChecker(source StatusSource, version string) *Checker {
	return &Checker{
		source:    source,
		version:   version,
		startTime: time.Now(),
	}
}

// Check performs a health check. The service is healthy once the dataset
// is loaded, degraded when the last attempt failed and nothing is cached.
func (h *Checker) Check() Report {
	st := h.source.Status()

	status := StatusStarting
	switch {
	case st.Loaded:
		status = StatusHealthy
	case st.LastError != "":
		status = StatusDegraded
	}

	return Report{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Dataset:   st,
	}
}

// Handler serves the report as JSON, with 503 when degraded
func (h *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		report := h.Check()
		code := http.StatusOK
		if report.Status == StatusDegraded {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Errorf("Failed to encode health report: %v", err)
		}
	}
}
