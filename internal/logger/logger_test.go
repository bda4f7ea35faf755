package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelParsing(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (Config{Level: in}).level(); got != want {
			t.Fatalf("level(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFilePathResolution(t *testing.T) {
	if p := (Config{}).filePath(); p != "" {
		t.Fatalf("no dir/file should yield empty path, got %q", p)
	}
	if p := (Config{Dir: "/var/log/guardian"}).filePath(); p != filepath.Join("/var/log/guardian", "guardian.log") {
		t.Fatalf("unexpected dir-derived path %q", p)
	}
	if p := (Config{Dir: "/x", File: "/y/g.log"}).filePath(); p != "/y/g.log" {
		t.Fatalf("explicit file must win, got %q", p)
	}
}

func TestNewWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	lg := New(Config{Dir: dir})
	lg.Info("service started", "service", "web", "pid", 42)

	b, err := os.ReadFile(filepath.Join(dir, "guardian.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(b))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log file line is not JSON: %v (%q)", err, line)
	}
	if rec["msg"] != "service started" || rec["service"] != "web" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestColorTextHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(NewColorTextHandler(&buf, nil))
	lg.Warn("port already bound")
	out := buf.String()
	if !strings.Contains(out, "\033[33m") || !strings.Contains(out, "port already bound") {
		t.Fatalf("expected colored WARN line, got %q", out)
	}
}

func TestChildWriters(t *testing.T) {
	dir := t.TempDir()
	out, errw := Config{Dir: dir}.ChildWriters("query_engine")
	if out == nil || errw == nil {
		t.Fatal("expected writers when dir configured")
	}
	if _, err := out.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	_ = out.Close()
	_ = errw.Close()
	if _, err := os.Stat(filepath.Join(dir, "query_engine.stdout.log")); err != nil {
		t.Fatalf("stdout capture file missing: %v", err)
	}

	out, errw = Config{}.ChildWriters("x")
	if out != nil || errw != nil {
		t.Fatal("no dir should yield nil writers")
	}
}
