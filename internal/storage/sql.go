package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
)

// SQLRepository 将运行记录写入关系型数据库，MySQL 与 SQLite 共用同一套语句。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 执行迁移并返回仓库。migrations 为 nil 时跳过迁移。
func NewSQLRepository(ctx context.Context, db *sql.DB, migrations fs.FS) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("数据库连接为空")
	}
	if migrations != nil {
		if err := Migrate(ctx, db, migrations); err != nil {
			return nil, err
		}
	}
	return &SQLRepository{db: db}, nil
}

// Save 写入一条运行记录。
func (s *SQLRepository) Save(ctx context.Context, record RunRecord) error {
	const stmt = `INSERT INTO gate_runs
        (run_id, device_id, stage, status, allowed, code, request_id, plan_tier, device_limit, devices_used, remaining, plan, error, exit_code, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.RunID,
		record.DeviceID,
		record.Stage,
		record.Status,
		record.Allowed,
		record.Code,
		record.RequestID,
		record.PlanTier,
		nullInt(record.Limit),
		nullInt(record.DevicesUsed),
		nullInt(record.Remaining),
		record.Plan,
		record.Error,
		record.ExitCode,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条运行记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, device_id, stage, status, allowed, code, request_id, plan_tier,
        device_limit, devices_used, remaining, plan, error, exit_code, created_at
        FROM gate_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			record                       RunRecord
			deviceLimit, used, remaining sql.NullInt64
		)
		if err := rows.Scan(&record.RunID, &record.DeviceID, &record.Stage, &record.Status, &record.Allowed,
			&record.Code, &record.RequestID, &record.PlanTier, &deviceLimit, &used, &remaining,
			&record.Plan, &record.Error, &record.ExitCode, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		record.Limit = fromNullInt(deviceLimit)
		record.DevicesUsed = fromNullInt(used)
		record.Remaining = fromNullInt(remaining)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return intPtr(int(v.Int64))
}
