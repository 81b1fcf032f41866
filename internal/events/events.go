package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"machineid-swarm/pkg/logger"
)

// Event 描述一次网关决策或智能体运行的结果。
type Event struct {
	RunID      string    `json:"run_id"`
	DeviceID   string    `json:"device_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status,omitempty"`
	Allowed    bool      `json:"allowed"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExitCode   int       `json:"exit_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 将事件投递到外部系统。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

func encode(event Event) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

// LogPublisher 将事件写入审计日志。
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher 创建日志投递器，l 为空时使用审计日志。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Audit()
	}
	return &LogPublisher{log: l}
}

// Name 返回驱动名。
func (p *LogPublisher) Name() string { return "log" }

// Publish 记录事件。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.InfoContext(ctx, "gate_event",
		slog.String("run_id", event.RunID),
		slog.String("device_id", event.DeviceID),
		slog.String("stage", event.Stage),
		slog.String("status", event.Status),
		slog.Bool("allowed", event.Allowed),
		slog.String("code", event.Code),
		slog.String("request_id", event.RequestID),
		slog.Int("exit_code", event.ExitCode))
	return nil
}

// Close 无需释放资源。
func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存事件，主要用于测试。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher 创建内存投递器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Name 返回驱动名。
func (p *MemoryPublisher) Name() string { return "memory" }

// Publish 追加事件。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events 返回已保存事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close 无需释放资源。
func (p *MemoryPublisher) Close() error { return nil }

// Fanout 将事件广播给多个投递器。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建广播投递器，忽略 nil。
func NewFanout(publishers ...Publisher) *Fanout {
	list := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Fanout{publishers: list}
}

// Name 返回驱动名。
func (f *Fanout) Name() string { return "fanout" }

// Len 返回下游投递器数量。
func (f *Fanout) Len() int { return len(f.publishers) }

// Publish 将事件投递至所有下游，单个失败不影响其余投递。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部下游。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
