package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestLoggerFields tests that domain child loggers attach their fields
func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf))

	logger.NewComponentLogger("pipeline").
		WithVolume("volume-01").
		WithChapter("chapter-03").
		WithSegment(7).
		WithStage("translation").
		Info("segment translated")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}

	expected := map[string]string{
		"component": "pipeline",
		"volume":    "volume-01",
		"chapter":   "chapter-03",
		"stage":     "translation",
		"message":   "segment translated",
	}
	for key, want := range expected {
		if line[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, line[key])
		}
	}
	if line["segment"] != float64(7) {
		t.Errorf("expected segment=7, got %v", line["segment"])
	}
}

// TestLoggerLevelFiltering tests that lower levels are suppressed
func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("visible")

	lines := strings.TrimSpace(buf.String())
	if strings.Count(lines, "\n")+1 != 1 {
		t.Errorf("expected exactly 1 log line, got %q", lines)
	}
	if !strings.Contains(lines, "visible") {
		t.Errorf("expected warning to pass, got %q", lines)
	}
}

// TestLoggerContextRoundTrip tests carrying the logger through a context
func TestLoggerContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf)).WithVolume("volume-09")

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("from context")

	if !strings.Contains(buf.String(), "volume-09") {
		t.Errorf("expected context logger to retain fields, got %q", buf.String())
	}

	// No logger in context: default must not panic
	FromContext(context.Background())
}

// TestNewLoggerFileOutput tests writing run logs to a file
func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	logger, err := NewLogger(LoggingConfig{Level: "debug", Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Infof("chapter %s done", "chapter-01")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "chapter chapter-01 done") {
		t.Errorf("expected formatted message in log file, got %q", string(data))
	}
}

// TestParseLogLevel tests level parsing including the default
func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
