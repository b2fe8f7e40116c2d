package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var invalidSegment = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Entry is one raw webhook body plus what was learned about it on receipt.
type Entry struct {
	EventKind  string
	TenantID   string
	DeliveryID string
	ReceivedAt time.Time
	Body       []byte
}

// Writer keeps raw webhook bodies on disk for replay and debugging.
type Writer struct {
	baseDir string
	log     waLog.Logger
}

// NewWriter returns nil when baseDir is empty; a nil Writer is a no-op.
func NewWriter(baseDir string, log waLog.Logger) *Writer {
	base := strings.TrimSpace(baseDir)
	if base == "" {
		return nil
	}
	if log == nil {
		log = waLog.Noop
	}
	return &Writer{baseDir: filepath.Clean(base), log: log}
}

func (w *Writer) Enabled() bool {
	return w != nil && w.baseDir != ""
}

// Write stores the entry as baseDir/<event kind>/<tenant>/<timestamp>-<uuid>.json
// and returns the file path.
func (w *Writer) Write(e Entry) (string, error) {
	if !w.Enabled() {
		return "", nil
	}

	dir := filepath.Join(w.baseDir, sanitizeSegment(e.EventKind), sanitizeSegment(e.TenantID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ts := e.ReceivedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", ts.Format("20060102T150405Z"), uuid.NewString()))

	data, err := json.MarshalIndent(record(e, ts), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	w.log.Debugf("Archived %s webhook for %s at %s", e.EventKind, e.TenantID, path)
	return path, nil
}

func record(e Entry, ts time.Time) map[string]any {
	rec := map[string]any{
		"event_kind":  e.EventKind,
		"tenant_id":   e.TenantID,
		"received_at": ts.Format(time.RFC3339Nano),
	}
	if e.DeliveryID != "" {
		rec["delivery_id"] = e.DeliveryID
	}
	// Bodies that are not JSON are kept verbatim as text.
	if json.Valid(e.Body) {
		rec["payload"] = json.RawMessage(e.Body)
	} else {
		rec["payload_text"] = string(e.Body)
	}
	return rec
}

func sanitizeSegment(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "unknown"
	}
	sanitized := invalidSegment.ReplaceAllString(candidate, "_")
	sanitized = strings.Trim(sanitized, "._-")
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}
