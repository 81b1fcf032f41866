package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"machineid-swarm/deploy/migrations"
	"machineid-swarm/internal/storage"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 连接 MySQL、执行迁移并返回运行历史仓库。
func Open(ctx context.Context, cfg Config) (*storage.SQLRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	files, err := migrations.Dialect("mysql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("加载 MySQL 迁移失败: %w", err)
	}
	repo, err := storage.NewSQLRepository(ctx, db, files)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	driverCfg, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if driverCfg.Timeout == 0 {
		driverCfg.Timeout = 5 * time.Second
	}

	connector, err := mysqldriver.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}
