package storage

import (
	"context"
	"errors"
)

// 记录所处的阶段。
const (
	StageRegister = "register"
	StageValidate = "validate"
	StageAgent    = "agent"
)

// RunRecord 表示一次 worker 运行的落库结构。
type RunRecord struct {
	RunID       string `json:"run_id"`
	DeviceID    string `json:"device_id"`
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Allowed     bool   `json:"allowed"`
	Code        string `json:"code,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	PlanTier    string `json:"plan_tier,omitempty"`
	Limit       *int   `json:"limit,omitempty"`
	DevicesUsed *int   `json:"devices_used,omitempty"`
	Remaining   *int   `json:"remaining,omitempty"`
	Plan        string `json:"plan,omitempty"`
	Error       string `json:"error,omitempty"`
	ExitCode    int    `json:"exit_code"`
	CreatedAt   int64  `json:"created_at"`
}

// Repository 抽象运行历史的持久化接口。
type Repository interface {
	Save(ctx context.Context, record RunRecord) error
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// Nop 丢弃所有记录，用于未配置存储的场景。
type Nop struct{}

// Save 实现 Repository。
func (Nop) Save(context.Context, RunRecord) error { return nil }

// ListLatest 实现 Repository。
func (Nop) ListLatest(context.Context, int) ([]RunRecord, error) { return nil, nil }

// Close 实现 Repository。
func (Nop) Close() error { return nil }

func intPtr(v int) *int { return &v }
