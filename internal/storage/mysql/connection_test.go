package mysql

import (
	"context"
	"testing"

	"machineid-swarm/deploy/migrations"
)

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := Open(context.Background(), Config{DSN: "user:pass@tcp(localhost:3306"}); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}

func TestMySQLMigrationsEmbedded(t *testing.T) {
	files, err := migrations.Dialect("mysql")
	if err != nil {
		t.Fatalf("dialect: %v", err)
	}
	f, err := files.Open("0001_create_gate_runs.sql")
	if err != nil {
		t.Fatalf("expected initial migration: %v", err)
	}
	f.Close()
}
