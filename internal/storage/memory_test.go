package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryRepositoryPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	now := time.Now().Unix()
	first := RunRecord{RunID: "run-1", DeviceID: "dev", Stage: StageValidate, Allowed: true, CreatedAt: now}
	second := RunRecord{RunID: "run-2", DeviceID: "dev", Stage: StageRegister, Status: "limit_reached", Limit: intPtr(3), CreatedAt: now + 1}

	for _, rec := range []RunRecord{first, second} {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	list, err := repo.ListLatest(ctx, 1)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 1 || list[0].RunID != "run-2" {
		t.Fatalf("unexpected list result: %+v", list)
	}

	reopened, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	all, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "run-2" || all[1].RunID != "run-1" {
		t.Fatalf("unexpected restored order: %+v", all)
	}
	if all[0].Limit == nil || *all[0].Limit != 3 {
		t.Fatalf("limit not restored: %+v", all[0])
	}
}

func TestMemoryRepositorySkipsCorruptLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "not-json\n{\"run_id\":\"ok\",\"device_id\":\"d\",\"stage\":\"validate\",\"allowed\":false,\"exit_code\":0,\"created_at\":1}\n"
	if err := os.WriteFile(filepath.Join(dir, "runs.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	list, _ := repo.ListLatest(context.Background(), 10)
	if len(list) != 1 || list[0].RunID != "ok" {
		t.Fatalf("unexpected records: %+v", list)
	}
}

func TestNopRepository(t *testing.T) {
	var repo Repository = Nop{}
	if err := repo.Save(context.Background(), RunRecord{}); err != nil {
		t.Fatalf("nop save: %v", err)
	}
	if list, _ := repo.ListLatest(context.Background(), 5); len(list) != 0 {
		t.Fatalf("nop should list nothing")
	}
}

func TestMemoryRepositoryRestoresLongRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	plan := strings.Repeat("step ", 40000)
	if err := repo.Save(context.Background(), RunRecord{RunID: "long", Stage: StageAgent, Plan: plan}); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen with long record: %v", err)
	}
	list, _ := reopened.ListLatest(context.Background(), 1)
	if len(list) != 1 || list[0].Plan != plan {
		t.Fatalf("long record not restored")
	}
}
