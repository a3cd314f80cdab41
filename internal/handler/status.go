package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/eventlog"
	"github.com/mir00r/failover-controller/internal/metrics"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// StatusProvider supplies the controller snapshot served by the API
type StatusProvider interface {
	Status() domain.ControllerStatus
}

// StatusHandler provides the read-only operational API. It observes the
// controller and the event log; nothing here mutates controller state.
type StatusHandler struct {
	provider  StatusProvider
	events    *eventlog.Log
	metrics   *metrics.Metrics
	logger    *logger.Logger
	startTime time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(provider StatusProvider, events *eventlog.Log, m *metrics.Metrics, log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		provider:  provider,
		events:    events,
		metrics:   m,
		logger:    log,
		startTime: time.Now(),
	}
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	domain.ControllerStatus
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// EventsResponse is the body of GET /events
type EventsResponse struct {
	Events []eventlog.Event `json:"events"`
	Count  int              `json:"count"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterRoutes registers the API routes on the router
func (h *StatusHandler) RegisterRoutes(router *mux.Router, metricsPath string) {
	router.HandleFunc("/healthz", h.HealthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/events", h.EventsHandler).Methods(http.MethodGet)
	if h.metrics != nil && metricsPath != "" {
		router.Handle(metricsPath, h.metrics.Handler()).Methods(http.MethodGet)
	}
}

// HealthzHandler handles GET /healthz
func (h *StatusHandler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// StatusHandler handles GET /status
func (h *StatusHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		ControllerStatus: h.provider.Status(),
		Uptime:           time.Since(h.startTime).String(),
		Timestamp:        time.Now(),
	}

	h.writeJSON(w, http.StatusOK, response)
}

// EventsHandler handles GET /events
func (h *StatusHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	events := h.events.Recent()

	h.writeJSON(w, http.StatusOK, EventsResponse{
		Events: events,
		Count:  len(events),
	})
}

// writeJSON writes a JSON response with the given status code
func (h *StatusHandler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
