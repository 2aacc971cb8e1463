package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pdfsqueeze.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Console = false

	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Expected logger, got %v", err)
	}

	WithJob(log, "job-1", "medium").WithField("file", "a.pdf").Info("Compression succeeded")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file, got %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", data, err)
	}
	if entry["message"] != "Compression succeeded" {
		t.Errorf("Expected message field, got %v", entry["message"])
	}
	if entry["job_id"] != "job-1" || entry["quality"] != "medium" {
		t.Errorf("Expected job fields, got %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Console = false

	cfg.Level = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("Expected error for unknown level")
	}

	cfg.Level = "info"
	cfg.Format = "xml"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Console = false
	cfg.Level = "error"

	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if log.IsLevelEnabled(logrus.InfoLevel) {
		t.Error("Expected info to be disabled at error level")
	}
	if WithOperation(log, "batch").Data["operation"] != "batch" {
		t.Error("Expected operation field")
	}
	if WithFileOperation(log, "a.pdf", "inspect").Data["file"] != "a.pdf" {
		t.Error("Expected file field")
	}
}
