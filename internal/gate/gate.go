package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/machineid"
	"machineid-swarm/internal/observability/metrics"
	"machineid-swarm/internal/storage"
	"machineid-swarm/pkg/logger"
)

// DefaultSettleDelay 是注册与校验之间的固定等待时间。
const DefaultSettleDelay = time.Second

// DeviceClient 是网关依赖的设备服务接口，由 *machineid.Client 实现。
type DeviceClient interface {
	Register(ctx context.Context, deviceID string) (*machineid.Result, error)
	ValidateWith(ctx context.Context, method, deviceID string) (*machineid.Result, error)
}

// Outcome 描述一次网关检查的结论。
type Outcome struct {
	RunID    string
	DeviceID string
	// Stage 是做出决策的阶段：register 或 validate。
	Stage    string
	Allowed  bool
	Code     xerrors.Code
	ExitCode int
	Register *machineid.Result
	Decision *machineid.Result
}

// Gate 执行注册与校验，并决定智能体是否可以启动。
type Gate struct {
	client  DeviceClient
	out     io.Writer
	settle  time.Duration
	method  string
	metrics *metrics.Recorder
	log     *slog.Logger
	newID   func() string
}

// Option 定义可选的网关配置。
type Option func(*Gate)

// WithOutput 设置面向用户的控制台输出。
func WithOutput(w io.Writer) Option {
	return func(g *Gate) {
		if w != nil {
			g.out = w
		}
	}
}

// WithSettleDelay 设置注册与校验之间的等待时间，小于等于 0 表示不等待。
func WithSettleDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d < 0 {
			d = 0
		}
		g.settle = d
	}
}

// WithValidateMethod 设置校验使用的 HTTP 方法。
func WithValidateMethod(method string) Option {
	return func(g *Gate) {
		if method != "" {
			g.method = method
		}
	}
}

// WithMetrics 挂载指标记录器。
func WithMetrics(r *metrics.Recorder) Option {
	return func(g *Gate) {
		g.metrics = r
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// New 创建网关。
func New(client DeviceClient, opts ...Option) *Gate {
	g := &Gate{
		client: client,
		out:    io.Discard,
		settle: DefaultSettleDelay,
		method: http.MethodPost,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.log == nil {
		g.log = logger.Named("gate")
	}
	return g
}

// Check 注册并校验设备。
//
// 业务结论（上限、拒绝、注册失败）以 Outcome 返回；只有传输失败或上下文取消才返回 error。
func (g *Gate) Check(ctx context.Context, deviceID string) (*Outcome, error) {
	outcome := &Outcome{RunID: g.newID(), DeviceID: deviceID, Stage: storage.StageRegister}
	log := g.log.With(slog.String("run_id", outcome.RunID), slog.String("device_id", deviceID))

	g.printf("→ Registering device '%s'\n", deviceID)
	reg, err := g.client.Register(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	outcome.Register = reg
	g.printf("✔ register status=%s\n", reg.Status())
	if g.metrics != nil {
		g.metrics.ObserveRegister(reg.Status())
	}
	log.Debug("注册完成", slog.String("status", reg.Status()), slog.String("plan_tier", reg.PlanTier()))

	if !reg.Registered() {
		if reg.LimitReached() {
			g.printf("🚫 Plan limit reached on register. Swarm worker should NOT start.\n")
			return g.finish(log, outcome, xerrors.CodeLimitReached), nil
		}
		g.printf("🚫 Register failed: %s\n", reg.Format())
		return g.finish(log, outcome, xerrors.CodeRegisterFailed), nil
	}

	if err := sleep(ctx, g.settle); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待校验时上下文结束")
	}

	outcome.Stage = storage.StageValidate
	g.printf("→ Validating device '%s' (%s)\n", deviceID, methodLabel(g.method))
	decision, err := g.client.ValidateWith(ctx, g.method, deviceID)
	if err != nil {
		return nil, err
	}
	outcome.Decision = decision
	outcome.Allowed = decision.Allowed()
	g.printf("✔ decision allowed=%t code=%s request_id=%s\n",
		outcome.Allowed, display(decision.Code()), display(decision.RequestID()))
	if g.metrics != nil {
		g.metrics.ObserveValidate(outcome.Allowed)
	}

	if !outcome.Allowed {
		g.printf("🚫 Execution denied (hard gate). Swarm run will NOT start.\n")
		g.printf("   code=%s request_id=%s\n", display(decision.Code()), display(decision.RequestID()))
		return g.finish(log, outcome, xerrors.CodeExecutionDenied), nil
	}

	log.Info("设备校验通过", slog.String("code", decision.Code()), slog.String("request_id", decision.RequestID()))
	return outcome, nil
}

func (g *Gate) finish(log *slog.Logger, outcome *Outcome, code xerrors.Code) *Outcome {
	outcome.Code = code
	attr := xerrors.AttributesOf(code)
	outcome.ExitCode = attr.ExitCode
	log.Info("网关阻止运行",
		slog.String("stage", outcome.Stage),
		slog.String("code", string(code)),
		slog.String("severity", string(attr.Severity)),
		slog.Int("exit_code", outcome.ExitCode))
	return outcome
}

func (g *Gate) printf(format string, args ...any) {
	fmt.Fprintf(g.out, format, args...)
}

func methodLabel(method string) string {
	if method == http.MethodGet {
		return "GET"
	}
	return "POST canonical"
}

func display(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
