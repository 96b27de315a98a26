package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// newJSON returns a JSON logger at level writing into a fresh buffer.
func newJSON(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

// lastEntry decodes the last JSON line written to buf.
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"chunk written"`},
		{"JSON", `"msg":"chunk written"`},
		{"", `"msg":"chunk written"`},
		{"text", `msg="chunk written"`},
		{"console", `msg="chunk written"`},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Config{Level: "info", Format: tt.format, Output: &buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			l.Info("chunk written", "chunk_index", 3)

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
			if !strings.Contains(buf.String(), "chunk_index") {
				t.Errorf("output %q lacks chunk_index", buf.String())
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newJSON(t, "debug")

	tests := []struct {
		level   string
		logFunc func(string, ...any)
	}{
		{"DEBUG", l.Debug},
		{"INFO", l.Info},
		{"WARN", l.Warn},
		{"ERROR", l.Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("restore chunk applied", "entries", 500)

			entry := lastEntry(t, buf)
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["msg"] != "restore chunk applied" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["entries"] != float64(500) {
				t.Errorf("entries = %v, want 500", entry["entries"])
			}
		})
	}
}

func TestLogger_WithAndContext(t *testing.T) {
	l, buf := newJSON(t, "info")

	l.With("component", "backup").WithContext(t.Context()).Info("run started", "version", 42)

	entry := lastEntry(t, buf)
	if entry["component"] != "backup" {
		t.Errorf("component = %v, want backup", entry["component"])
	}
	if entry["version"] != float64(42) {
		t.Errorf("version = %v, want 42", entry["version"])
	}
	if l.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestSetLevel(t *testing.T) {
	l, buf := newJSON(t, "error")
	t.Cleanup(func() { SetLevel("info") })

	l.Info("filtered")
	if buf.Len() > 0 {
		t.Fatalf("info logged at error level: %s", buf.String())
	}

	SetLevel("debug")
	if got := GetLevel(); got != "debug" {
		t.Errorf("GetLevel() = %q, want debug", got)
	}
	l.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug not logged after SetLevel(debug)")
	}

	buf.Reset()
	SetLevel("warn")
	l.Info("filtered again")
	l.Warn("kept")
	if got := lastEntry(t, buf)["msg"]; got != "kept" {
		t.Errorf("last message = %v, want kept", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "debug"},
		{"DEBUG", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"ERROR", "error"},
		{"verbose", "info"},
		{"", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			SetLevel(tt.input)
			if got := GetLevel(); got != tt.expected {
				t.Errorf("SetLevel(%q); GetLevel() = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, buf := newJSON(t, "debug")
	SetDefault(l)
	if Default() != l {
		t.Fatal("Default() did not return the logger passed to SetDefault")
	}

	tests := []struct {
		name    string
		logFunc func(string, ...any)
	}{
		{"Debug", Debug},
		{"Info", Info},
		{"Warn", Warn},
		{"Error", Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("manifest sealed", "run_id", "01J0000000000000000000000")
			if lastEntry(t, buf)["run_id"] != "01J0000000000000000000000" {
				t.Errorf("%s() lost run_id", tt.name)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" || cfg.Format != "json" {
		t.Errorf("DefaultConfig() = %+v, want info/json", cfg)
	}
	if cfg.Output == nil {
		t.Error("DefaultConfig().Output should not be nil")
	}
}
