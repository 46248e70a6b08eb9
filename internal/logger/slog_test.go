package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/vaultline/ingestcore/internal/logger"
)

func TestSlogWritesThroughToTheUnderlyingLogger(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(zerolog.InfoLevel, &buf)

	sl := l.Slog().With("component", "supervisor")
	sl.Info("tree started", "services", 2)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("Slog: no output written")
	}
	if !strings.Contains(line, "tree started") {
		t.Errorf("output missing message: %s", line)
	}
	if !strings.Contains(line, "component") || !strings.Contains(line, "supervisor") {
		t.Errorf("output missing WithAttrs field: %s", line)
	}
}

func TestSlogEnabledRespectsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(zerolog.WarnLevel, &buf)

	sl := l.Slog()
	sl.Info("should be dropped")
	sl.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Errorf("Info line should have been suppressed below Warn level: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("Warn line missing from output: %s", out)
	}
}
