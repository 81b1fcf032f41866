package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"machineid-swarm/internal/storage"
)

func TestOpenSaveList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)
	ctx := context.Background()

	repo, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	limit := 3
	records := []storage.RunRecord{
		{RunID: "a", DeviceID: "dev", Stage: storage.StageRegister, Status: "limit_reached", Limit: &limit, CreatedAt: 1},
		{RunID: "b", DeviceID: "dev", Stage: storage.StageAgent, Status: "ok", Allowed: true, Plan: "plan", CreatedAt: 2},
	}
	for _, rec := range records {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.RunID, err)
		}
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 再次打开时迁移不会重复执行。
	repo, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "b" || !list[0].Allowed || list[0].Plan != "plan" {
		t.Fatalf("unexpected records: %+v", list)
	}
	if list[1].Limit == nil || *list[1].Limit != 3 || list[1].Remaining != nil {
		t.Fatalf("unexpected nullable columns: %+v", list[1])
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
