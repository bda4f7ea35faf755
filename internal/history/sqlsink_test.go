package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSink("  "); err == nil {
		t.Fatal("empty DSN must be rejected")
	}
}

func TestSQLSinkAppendsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSink(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []Event{
		{Type: EventStart, Service: "web", PID: 100, OccurredAt: time.Now()},
		{Type: EventHealth, Service: "web", PID: 100, Verdict: "unreachable", Detail: "dial timeout", OccurredAt: time.Now()},
		{Type: EventRestart, Service: "web", PID: 101, Detail: "backoff 5s", OccurredAt: time.Now()},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %v: %v", e.Type, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM guardian_history`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(events) {
		t.Fatalf("want %d rows, got %d", len(events), n)
	}
	var verdict string
	if err := db.QueryRow(
		`SELECT verdict FROM guardian_history WHERE event_type = 'health'`).Scan(&verdict); err != nil {
		t.Fatalf("select verdict: %v", err)
	}
	if verdict != "unreachable" {
		t.Fatalf("verdict = %q, want unreachable", verdict)
	}
}

func TestSQLSinkSchemeDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheme.db")
	sink, err := NewSQLSink("sqlite://" + path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	if err := sink.Send(context.Background(), Event{Type: EventStop, Service: "x", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = sink.Close()
}
