package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
)

func writeCapture(t *testing.T, pci uint32) string {
	t.Helper()
	b := phy.NewBeacon()
	if err := b.Init(config.SSB{Pattern: "A", SCSkHz: 15, PeriodicityMs: 20}, 192e3, 1842.5e6); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Encode(phy.MIB{SFN: 9, SCSCommon: 15, DMRSTypeAPos: 2, Coreset0Index: 1}, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := b.Synthesize(pci, msg, 0)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]complex64, 40*len(sf))
	for _, start := range []int{4, 24} {
		copy(samples[start*len(sf):], sf)
	}

	path := filepath.Join(t.TempDir(), "capture.fc32")
	w, err := sdr.CreateIQ(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(samples); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunReportsCell(t *testing.T) {
	path := writeCapture(t, 88)
	var out bytes.Buffer
	code := run(context.Background(), []string{"-file", path, "-srate", "192000"}, &out, io.Discard)
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(out.String(), "PCI 88:") {
		t.Fatalf("missing cell summary:\n%s", out.String())
	}
}

func TestRunFilteredOut(t *testing.T) {
	path := writeCapture(t, 88)
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-file", path, "-srate", "192000", "-pci", "89"}, &out, io.Discard); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(out.String(), "no SSBs found") {
		t.Fatalf("expected empty report:\n%s", out.String())
	}
}

func TestParseFlagsRequiresFile(t *testing.T) {
	if _, err := parseFlags(nil, io.Discard); err == nil {
		t.Fatal("expected error without -file")
	}
	if _, err := parseFlags([]string{"-file", "x", "-pci", "1008"}, io.Discard); err == nil {
		t.Fatal("expected PCI range error")
	}
}

func TestRunMissingFile(t *testing.T) {
	if code := run(context.Background(), []string{"-file", filepath.Join(t.TempDir(), "none")}, io.Discard, io.Discard); code != 1 {
		t.Fatalf("exit code %d", code)
	}
}
