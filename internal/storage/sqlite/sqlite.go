package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"machineid-swarm/deploy/migrations"
	"machineid-swarm/internal/storage"
)

// DefaultFile 是未配置 DSN 时在数据目录下使用的文件名。
const DefaultFile = "runs.db"

// Open 打开（必要时创建）SQLite 数据库并执行迁移。
func Open(ctx context.Context, path string) (*storage.SQLRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("SQLite 路径不能为空")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建 SQLite 目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	// SQLite 只允许单个写连接。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 SQLite busy_timeout 失败: %w", err)
	}

	files, err := migrations.Dialect("sqlite")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("加载 SQLite 迁移失败: %w", err)
	}
	repo, err := storage.NewSQLRepository(ctx, db, files)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
