package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestNewLogger tests creating a new logger instance
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid text logger",
			config: Config{Level: "info", Format: "text", Output: "stdout", Component: "test"},
		},
		{
			name:   "valid json logger",
			config: Config{Level: "debug", Format: "json", Output: "stderr", Component: "test"},
		},
		{
			name:   "invalid log level",
			config: Config{Level: "invalid", Format: "text", Output: "stdout", Component: "test"},
		},
		{
			name:   "empty values use defaults",
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestWriterOverridesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "json", Output: "/nonexistent/dir/x.log", Writer: &buf, Component: "route"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Debug("compiled", "routes", 3)

	entry := decode(t, &buf)
	if entry["msg"] != "compiled" {
		t.Errorf("msg = %v, want compiled", entry["msg"])
	}
	if entry["service"] != "stderr" {
		t.Errorf("service = %v, want stderr", entry["service"])
	}
	if entry["component"] != "route" {
		t.Errorf("component = %v, want route", entry["component"])
	}
	if entry["routes"] != float64(3) {
		t.Errorf("routes = %v, want 3", entry["routes"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Format: "text", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base, _ := New(Config{Format: "json", Writer: &buf, Component: "app"})

	scoped := base.WithComponent("plugin")
	if scoped.Component() != "plugin" {
		t.Errorf("Component() = %q, want plugin", scoped.Component())
	}

	scoped.Info("resolved")
	if !strings.Contains(buf.String(), `"component":"plugin"`) {
		t.Errorf("output missing component: %s", buf.String())
	}
}

func TestWithRequestIDAndEnvironment(t *testing.T) {
	var buf bytes.Buffer
	base, _ := New(Config{Format: "json", Writer: &buf, Component: "dispatch"})

	base.WithRequestID("req-1").WithEnvironment("dev").Info("handled")

	entry := decode(t, &buf)
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", entry["request_id"])
	}
	if entry["environment"] != "dev" {
		t.Errorf("environment = %v, want dev", entry["environment"])
	}
}

// TestErrorEvent tests logging error events
func TestErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Format: "json", Writer: &buf, Component: "test"})

	logger.ErrorEvent(context.Background(), "file not found", os.ErrNotExist,
		slog.String("file_path", "/tmp/test.txt"),
	)

	entry := decode(t, &buf)
	if entry["error"] == nil {
		t.Error("Missing error field")
	}
	if entry["error_type"] == nil {
		t.Error("Missing error_type field")
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["file_path"] != "/tmp/test.txt" {
		t.Errorf("file_path = %v, want /tmp/test.txt", entry["file_path"])
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	l.WithComponent("x").Info("dropped")
}

// TestGlobalLogger tests the global logger functions
func TestGlobalLogger(t *testing.T) {
	globalLogger = nil
	once = *new(sync.Once)
	t.Cleanup(func() {
		globalLogger = nil
		once = *new(sync.Once)
	})

	if Global() == nil {
		t.Fatal("Global() returned nil")
	}

	Info("test info")
	Warn("test warn")
	Error("test error")
	Debug("test debug")

	if err := Initialize("info", "text", "stderr"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if Global() != globalLogger {
		t.Error("Global() did not return the initialized logger")
	}
}

// TestFileOutput tests logging to a file
func TestFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "stderr.log")

	logger, err := New(Config{Level: "info", Format: "text", Output: logFile, Component: "test"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.Info("written to file")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content = %q", string(data))
	}
}
