package logx

import (
	"bytes"
	"log/slog"
	"os"
	"runtime"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelWarn},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func currentPC() uintptr {
	pcs := make([]uintptr, 1)
	runtime.Callers(2, pcs)
	return pcs[0]
}

// TestFilteringHandler_ThirdPartyLogsHiddenAboveDebug exercises the same
// filteringHandler that Init wires up: at an Info minimum level, a record
// whose program counter resolves outside this module's package prefix is
// dropped, while one resolving inside it is written.
func TestFilteringHandler_ThirdPartyLogsHiddenAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{handler: slog.NewTextHandler(&buf, nil), minLevel: slog.LevelInfo}

	ownRecord := slog.NewRecord(time.Now(), slog.LevelInfo, "own module log", currentPC())
	if err := h.Handle(t.Context(), ownRecord); err != nil {
		t.Fatalf("Handle(own) error: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected own-package log to be written, buffer empty")
	}

	buf.Reset()
	thirdPartyRecord := slog.NewRecord(time.Now(), slog.LevelInfo, "vendor log", 0)
	if err := h.Handle(t.Context(), thirdPartyRecord); err != nil {
		t.Fatalf("Handle(third-party) error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected third-party log with unresolvable PC to be filtered, got %q", buf.String())
	}
}

// TestFilteringHandler_DebugLevelAllowsEverything confirms the escape hatch:
// at Debug, third-party logs pass through unfiltered.
func TestFilteringHandler_DebugLevelAllowsEverything(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{handler: slog.NewTextHandler(&buf, nil), minLevel: slog.LevelDebug}

	record := slog.NewRecord(time.Now(), slog.LevelDebug, "vendor debug log", 0)
	if err := h.Handle(t.Context(), record); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected debug-level third-party log to pass through, buffer empty")
	}
}

func TestInit_WritesToConfiguredFile(t *testing.T) {
	path := t.TempDir() + "/toolmeshd.log"
	file, cleanup, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	defer cleanup()

	Init(slog.LevelInfo, file, "simple")
	slog.Info("hello from test")

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(contents) == 0 {
		t.Error("expected Init to route slog output to the configured file")
	}
}

func TestGetLogger_InitializesLazily(t *testing.T) {
	defaultLogger = nil
	logger := GetLogger()
	if logger == nil {
		t.Fatal("GetLogger returned nil")
	}
	if defaultLogger == nil {
		t.Fatal("GetLogger did not populate defaultLogger")
	}
}
