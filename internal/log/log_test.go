package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "info", "json")

	New("session").Info("connected", "voice", "Kore")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["component"] != "session" {
		t.Errorf("component = %v, want session", rec["component"])
	}
	if rec["voice"] != "Kore" {
		t.Errorf("voice = %v, want Kore", rec["voice"])
	}
}

func TestInitWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn", "text")

	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing")
	}
}

func TestOr(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Or(base, "capture").Info("started")

	if !strings.Contains(buf.String(), "component=capture") {
		t.Errorf("expected component attribute, got %q", buf.String())
	}
}
