package retention

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// AuditEvent is one append-only audit-log line: scan, plan, delete,
// skip-pin, or error, keyed by the run that produced it.
type AuditEvent struct {
	Event     string         `json:"event"`
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"-"`
}

// MarshalJSON flattens Payload's keys alongside the event/run_id/timestamp
// fields, matching the original's AuditEvent.to_dict() shape.
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"event":     e.Event,
		"run_id":    e.RunID,
		"timestamp": e.Timestamp,
	}
	for k, v := range e.Payload {
		out[k] = v
	}
	return json.Marshal(out)
}

// AuditLogger appends one JSON line per recorded event to a single file,
// creating parent directories on first use.
type AuditLogger struct {
	logPath string
	mu      sync.Mutex
}

// NewAuditLogger builds a logger writing to logPath.
func NewAuditLogger(logPath string) *AuditLogger {
	return &AuditLogger{logPath: logPath}
}

// NewRunID mints a fresh run id: a bare 32-character hex UUID, no dashes.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Record appends one event to the audit log, serialized as a single
// JSON line. now is accepted explicitly so callers (and tests) control
// the recorded timestamp.
func (a *AuditLogger) Record(event, runID string, payload map[string]any, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create audit log directory", err)
	}

	rec := AuditEvent{
		Event:     event,
		RunID:     runID,
		Timestamp: utcISO(now),
		Payload:   payload,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.EncodeErr, "failed to marshal audit event", err)
	}

	f, err := os.OpenFile(a.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to append audit event", err)
	}
	return nil
}

// utcISO formats t as UTC ISO-8601 with a trailing "Z", matching the
// original's "+00:00" -> "Z" rewrite.
func utcISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
