package interp

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMacroWatcherLogsWhenMissingMacroAppears(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	w, err := NewMacroWatcher(dir, logger)
	if err != nil {
		t.Fatalf("NewMacroWatcher: %v", err)
	}
	w.NoteMissing("bed.g")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "bed.g"), []byte("G28\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if bytes.Contains(buf.Bytes(), []byte("bed.g appeared")) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never logged the appearance, got: %q", buf.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMacroWatcherIgnoresUnreportedFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	w, err := NewMacroWatcher(dir, logger)
	if err != nil {
		t.Fatalf("NewMacroWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "unrelated.g"), []byte("G1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if buf.Len() != 0 {
		t.Fatalf("expected no log output for an unreported file, got: %q", buf.String())
	}
}
