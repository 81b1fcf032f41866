package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"machineid-swarm/internal/agent"
	"machineid-swarm/internal/config"
	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/events"
	"machineid-swarm/internal/gate"
	"machineid-swarm/internal/llm"
	"machineid-swarm/internal/machineid"
	"machineid-swarm/internal/observability/metrics"
	"machineid-swarm/internal/storage"
	"machineid-swarm/pkg/logger"
)

// Deps 汇总一次运行所需的依赖。为空的字段按配置自动创建。
type Deps struct {
	Config *config.Config
	Stdout io.Writer
	Stderr io.Writer

	// HTTPClient 用于访问设备服务。
	HTTPClient *http.Client
	LLM        llm.Client
	Repository storage.Repository
	Publisher  events.Publisher
	Metrics    *metrics.Recorder
	Now        func() time.Time
}

type runner struct {
	cfg       *config.Config
	out       io.Writer
	errOut    io.Writer
	repo      storage.Repository
	publisher events.Publisher
	metrics   *metrics.Recorder
	now       func() time.Time
	log       *slog.Logger
}

// Run 执行一次完整流程并返回进程退出码。
//
// 顺序为：检查凭据、注册、校验、运行智能体、输出计划。达到上限或被拒绝时返回 0。
func Run(ctx context.Context, deps Deps) int {
	r := &runner{
		cfg:     deps.Config,
		out:     deps.Stdout,
		errOut:  deps.Stderr,
		metrics: deps.Metrics,
		now:     deps.Now,
		log:     logger.Named("worker"),
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.errOut == nil {
		r.errOut = os.Stderr
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.cfg == nil {
		return r.fail(xerrors.New(xerrors.CodeInvalidConfig, "未提供配置"))
	}

	if err := r.cfg.Validate(); err != nil {
		return r.fail(err)
	}

	r.printf("✔ MACHINEID_ORG_KEY loaded: %s\n", r.cfg.MaskedOrgKey())
	r.printf("Using base_url: %s\n", r.cfg.MachineID.BaseURL)
	r.printf("Using device_id: %s\n", r.cfg.MachineID.DeviceID)
	r.printf("\n")

	repo := deps.Repository
	if repo == nil {
		opened, err := openRepository(ctx, r.cfg)
		switch {
		case xerrors.CodeOf(err) == xerrors.CodeStorageFailure:
			// 存储不可用时仍然执行网关检查，只是不保留历史。
			r.log.Warn("运行历史存储不可用，本次运行不落库",
				slog.String("driver", r.cfg.Storage.Driver), slog.Any("error", err))
			opened = storage.Nop{}
		case err != nil:
			return r.fail(err)
		}
		repo = opened
		defer closeQuietly(r.log, "storage", repo.Close)
	}
	r.repo = repo

	publisher := deps.Publisher
	if publisher == nil {
		opened, err := openPublisher(ctx, r.cfg, r.log)
		if err != nil {
			return r.fail(err)
		}
		publisher = opened
		defer closeQuietly(r.log, "events", publisher.Close)
	}
	r.publisher = publisher

	defer r.exportMetrics()

	client, err := machineid.NewClient(machineid.Config{
		BaseURL:    r.cfg.MachineID.BaseURL,
		OrgKey:     r.cfg.MachineID.OrgKey,
		Timeout:    r.cfg.MachineID.Timeout(),
		HTTPClient: deps.HTTPClient,
		Observer:   r.metrics.Observer(),
	})
	if err != nil {
		return r.fail(err)
	}

	g := gate.New(client,
		gate.WithOutput(r.out),
		gate.WithSettleDelay(r.cfg.MachineID.SettleDelay()),
		gate.WithValidateMethod(r.cfg.MachineID.ValidateMethod),
		gate.WithMetrics(r.metrics),
	)
	outcome, err := g.Check(ctx, r.cfg.MachineID.DeviceID)
	if err != nil {
		r.printf("❌ Gate check failed: %v\n", err)
		return r.fail(err)
	}
	r.record(ctx, gateRecord(outcome, r.now()))
	if !outcome.Allowed {
		return outcome.ExitCode
	}

	r.printf("✅ Execution allowed. Starting Swarm run.\n\n")
	if r.cfg.Runtime.DryRun {
		r.printf("Dry run enabled. Swarm run skipped.\n")
		return 0
	}

	llmClient := deps.LLM
	if llmClient == nil {
		created, err := createLLMClient(r.cfg)
		if err != nil {
			return r.fail(err)
		}
		llmClient = created
	}

	plan, err := r.runSwarm(ctx, llmClient)
	agentRec := storage.RunRecord{
		RunID:     outcome.RunID,
		DeviceID:  outcome.DeviceID,
		Stage:     storage.StageAgent,
		Status:    "ok",
		Allowed:   true,
		Code:      outcome.Decision.Code(),
		RequestID: outcome.Decision.RequestID(),
		PlanTier:  outcome.Decision.PlanTier(),
		Plan:      plan,
		CreatedAt: r.now().Unix(),
	}
	if err != nil {
		r.metrics.ObserveAgentRun("error")
		agentRec.Status = "error"
		agentRec.Error = err.Error()
		agentRec.ExitCode = xerrors.ExitCodeOf(err)
		r.record(ctx, agentRec)
		r.printf("❌ Error while running Swarm: %v\n", err)
		r.log.Error("Swarm 运行失败", slog.String("run_id", outcome.RunID), slog.Any("error", err))
		return agentRec.ExitCode
	}
	r.metrics.ObserveAgentRun("ok")
	r.record(ctx, agentRec)

	r.printf("✔ Swarm result:\n")
	r.printf("%s\n", plan)
	r.printf("\n")
	r.printf("Done. swarmworker completed successfully.\n")
	return 0
}

func (r *runner) runSwarm(ctx context.Context, client llm.Client) (string, error) {
	swarm := agent.New(client,
		agent.WithMaxTurns(r.cfg.Agent.MaxTurns),
		agent.WithLLMTimeout(r.cfg.OpenAI.Timeout()),
	)
	resp, err := swarm.Run(ctx, agent.RunRequest{
		Agent:    agent.NewPlanner(r.cfg.OpenAI.Model),
		Messages: agent.PlanMessages(),
	})
	if err != nil {
		return "", err
	}
	plan := resp.LastContent()
	if strings.TrimSpace(plan) == "" {
		return "", xerrors.New(xerrors.CodeAgentFailure, "智能体未返回计划内容")
	}
	return plan, nil
}

// record 保存运行记录并投递事件，失败只记录日志，不影响退出码。
func (r *runner) record(ctx context.Context, rec storage.RunRecord) {
	if err := r.repo.Save(ctx, rec); err != nil {
		r.log.Warn("保存运行记录失败", slog.String("run_id", rec.RunID), slog.Any("error", err))
	}
	event := events.Event{
		RunID:      rec.RunID,
		DeviceID:   rec.DeviceID,
		Stage:      rec.Stage,
		Status:     rec.Status,
		Allowed:    rec.Allowed,
		Code:       rec.Code,
		RequestID:  rec.RequestID,
		Error:      rec.Error,
		ExitCode:   rec.ExitCode,
		OccurredAt: time.Unix(rec.CreatedAt, 0).UTC(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log.Warn("投递事件失败", slog.String("run_id", rec.RunID), slog.Any("error", err))
	}
}

func (r *runner) exportMetrics() {
	mc := r.cfg.Metrics
	if mc.TextfilePath != "" {
		if err := r.metrics.WriteTextfile(mc.TextfilePath); err != nil {
			r.log.Warn("写入指标文件失败", slog.Any("error", err))
		}
	}
	if mc.PushgatewayURL != "" {
		if err := r.metrics.Push(mc.PushgatewayURL, mc.Job); err != nil {
			r.log.Warn("推送指标失败", slog.Any("error", err))
		}
	}
}

func (r *runner) fail(err error) int {
	code := xerrors.ExitCodeOf(err)
	if e, ok := xerrors.From(err); ok && e.Code() == xerrors.CodeMissingEnv {
		fmt.Fprint(r.errOut, e.Message())
	} else {
		fmt.Fprintf(r.errOut, "%v\n", err)
	}
	r.log.Error("worker 终止",
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Int("exit_code", code))
	return code
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// gateRecord 将网关结论转换为运行记录。
func gateRecord(o *gate.Outcome, at time.Time) storage.RunRecord {
	rec := storage.RunRecord{
		RunID:     o.RunID,
		DeviceID:  o.DeviceID,
		Stage:     o.Stage,
		Allowed:   o.Allowed,
		Code:      string(o.Code),
		ExitCode:  o.ExitCode,
		CreatedAt: at.Unix(),
	}
	src := o.Register
	if o.Decision != nil {
		src = o.Decision
	}
	if src != nil {
		rec.Status = src.Status()
		rec.RequestID = src.RequestID()
		rec.PlanTier = src.PlanTier()
		rec.Error = src.ErrorMessage()
		if code := src.Code(); code != "" {
			rec.Code = code
		}
		if v, ok := src.Limit(); ok {
			rec.Limit = &v
		}
		if v, ok := src.DevicesUsed(); ok {
			rec.DevicesUsed = &v
		}
		if v, ok := src.Remaining(); ok {
			rec.Remaining = &v
		}
	}
	return rec
}

func closeQuietly(l *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		l.Warn("关闭资源失败", slog.String("resource", name), slog.Any("error", err))
	}
}
