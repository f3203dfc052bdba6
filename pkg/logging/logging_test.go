package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"ragbridge/pkg/logging"
)

// TestNew_JSON verifies level filtering and JSON field encoding.
func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closeFn, err := logging.New(logging.Options{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("worker exited", zap.Int("pid", 42))
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at warn level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", lines[0], err)
	}
	if entry["msg"] != "worker exited" || entry["pid"] != float64(42) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

// TestNew_File verifies that logs are appended to the configured file.
func TestNew_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "ragbridge.log")
	logger, closeFn, err := logging.New(logging.Options{File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("bridge started")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "bridge started") {
		t.Fatalf("expected message in log file, got %q", data)
	}
}

// TestNew_InvalidOptions verifies that bad level and format names fail.
func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()

	if _, _, err := logging.New(logging.Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
