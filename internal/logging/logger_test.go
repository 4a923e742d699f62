package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTextLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Warn("shown", F("pci", 500))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown pci=500") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestJSONLoggerCarriesWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(F("subsystem", "capture"))
	l.Error("boom", F("err", errors.New("rx stalled")))

	line := buf.String()
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no JSON payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["subsystem"] != "capture" || payload["err"] != "rx stalled" || payload["level"] != "ERROR" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestOpenWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spoof.log")
	l, closer, err := Open("debug", "text", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Debug("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestOpenRejectsUnknownLevel(t *testing.T) {
	if _, _, err := Open("loud", "text", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
