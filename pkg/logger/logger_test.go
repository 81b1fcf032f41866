package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesAuditAndOutputFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "worker.log")
	auditPath := filepath.Join(dir, "audit", "gate.log")

	if err := Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("gate").Debug("checking", "device_id", "swarm:worker-01")
	Audit().Info("gate_event", "allowed", false)
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line); err != nil {
		t.Fatalf("decode log: %v (%s)", err, data)
	}
	if line["component"] != "gate" || line["level"] != "DEBUG" {
		t.Fatalf("unexpected log line: %v", line)
	}

	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(audit), `"msg":"gate_event"`) || strings.Contains(string(audit), "checking") {
		t.Fatalf("unexpected audit content: %s", audit)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
