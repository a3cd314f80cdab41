package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// EventType classifies event log entries
type EventType string

const (
	// EventSample - a routine per-tick CPU sample
	EventSample EventType = "sample"
	// EventSampleFailure - the metric source was unreachable this tick
	EventSampleFailure EventType = "sample_failure"
	// EventTransition - an attempted failover or failback
	EventTransition EventType = "transition"
)

// Event is one append-only event log entry
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	ActiveRole string    `json:"active_role,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Log is the append-only event record consumed by operators. Every sample and
// every transition record is written exactly once, in tick order. Entries go
// to the structured logger, optionally to an append-only JSONL file, and into
// a bounded in-memory ring served by the status API.
//
// The controller appends from its single tick loop; the mutex only guards
// against concurrent reads from the status API.
type Log struct {
	logger *logger.Logger
	file   *os.File

	mu   sync.Mutex
	ring []Event
	size int
}

// New creates an event log. filePath may be empty to disable the file sink.
func New(filePath string, historySize int, log *logger.Logger) (*Log, error) {
	l := &Log{
		logger: log.EventLogLogger(),
		ring:   make([]Event, 0, historySize),
		size:   historySize,
	}

	if filePath != "" {
		dir := filepath.Dir(filePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory %s: %w", dir, err)
		}

		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log file %s: %w", filePath, err)
		}
		l.file = file
	}

	return l, nil
}

// RecordSample appends a routine sample entry
func (l *Log) RecordSample(sample domain.Sample, active domain.BackendRole) {
	event := Event{
		Type:       EventSample,
		Timestamp:  sample.Timestamp,
		CPUPercent: sample.CPUPercent,
		ActiveRole: active.String(),
	}

	l.logger.WithFields(map[string]interface{}{
		"cpu_percent": sample.CPUPercent,
		"active_role": active.String(),
	}).Info("Sample recorded")

	l.append(event)
}

// RecordSampleFailure appends an entry for a tick whose sample could not be taken
func (l *Log) RecordSampleFailure(at time.Time, err error) {
	event := Event{
		Type:      EventSampleFailure,
		Timestamp: at,
		Error:     err.Error(),
	}

	l.logger.WithError(err).Warn("Sample unavailable, skipping decision this tick")

	l.append(event)
}

// RecordTransition appends a transition record
func (l *Log) RecordTransition(record domain.TransitionRecord) {
	event := Event{
		Type:       EventTransition,
		Timestamp:  record.Timestamp,
		CPUPercent: record.TriggerCPUPercent,
		From:       record.From.String(),
		To:         record.To.String(),
		Outcome:    record.Outcome.String(),
		Error:      record.Error,
	}

	log := l.logger.WithFields(map[string]interface{}{
		"from":                record.From.String(),
		"to":                  record.To.String(),
		"trigger_cpu_percent": record.TriggerCPUPercent,
		"outcome":             record.Outcome.String(),
	})
	if record.Outcome == domain.OutcomeFailed {
		log.WithField("error", record.Error).Error("Transition failed")
	} else {
		log.Info("Transition recorded")
	}

	l.append(event)
}

// Recent returns the retained events, oldest first
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]Event, len(l.ring))
	copy(events, l.ring)
	return events
}

// Close flushes and closes the file sink if one is configured
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// append writes the event to the ring and the optional file sink
func (l *Log) append(event Event) {
	l.mu.Lock()
	if len(l.ring) == l.size {
		copy(l.ring, l.ring[1:])
		l.ring[len(l.ring)-1] = event
	} else {
		l.ring = append(l.ring, event)
	}
	l.mu.Unlock()

	if l.file != nil {
		data, err := json.Marshal(event)
		if err != nil {
			l.logger.WithError(err).Error("Failed to marshal event")
			return
		}
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			l.logger.WithError(err).Error("Failed to append event to file")
		}
	}
}
