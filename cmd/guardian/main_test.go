package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildRootHasCommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"serve": false, "validate": false, "status": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %q missing", name)
		}
	}
}

func TestValidateCommandOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.toml")
	body := `
[[services]]
name = "a"
port = 8001
command = "true"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd := newValidateCmd()
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestStatusCommandAgainstFakeAPI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode([]serviceStatus{
			{Name: "a", Ownership: "managed", PID: 42, Health: "healthy"},
		})
	}))
	defer ts.Close()

	cmd := newStatusCmd()
	cmd.SetArgs([]string{"--api-url", ts.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestStatusCommandUnreachable(t *testing.T) {
	cmd := newStatusCmd()
	cmd.SetArgs([]string{"--api-url", "http://127.0.0.1:1", "--api-timeout", "200ms"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unreachable API")
	}
}
