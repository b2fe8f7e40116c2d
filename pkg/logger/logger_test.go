package logger

import (
	"bytes"
	"strings"
	"testing"

	waLog "go.mau.fi/whatsmeow/util/log"
)

func TestZerologLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := waLog.Zerolog(newZerolog(&buf, "warn"))

	log.Infof("hidden %d", 1)
	log.Warnf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown 2") || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected structured warn line, got %s", out)
	}
}

func TestNewDefaultsToConsole(t *testing.T) {
	l := New("", "")
	if l.App == nil || l.HTTP == nil {
		t.Fatalf("expected loggers to be initialised")
	}
	if New("debug", "json").App == nil {
		t.Fatalf("expected json logger")
	}
}
