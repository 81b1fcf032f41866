package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/llm"
	"machineid-swarm/pkg/logger"
)

// Agent 描述一个具备独立指令的对话智能体。
type Agent struct {
	Name         string
	Instructions string
	// Model 为空时使用大模型客户端的默认模型。
	Model string
	// Handoffs 列出当前智能体可以移交对话的目标。
	Handoffs []*Agent
}

// RunRequest 描述一次 Swarm 运行。
type RunRequest struct {
	Agent    *Agent
	Messages []llm.Message
	// MaxTurns 为 0 时使用 Swarm 的默认值。
	MaxTurns int
}

// Response 汇总一次运行新增的消息与最终活跃的智能体。
type Response struct {
	Messages []llm.Message
	Agent    *Agent
	Turns    int
}

// LastContent 返回最后一条带内容的 assistant 消息。
func (r *Response) LastContent() string {
	if r == nil {
		return ""
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		msg := r.Messages[i]
		if msg.Role == llm.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
			return msg.Content
		}
	}
	return ""
}

// Swarm 驱动多个智能体轮流与大模型对话，并处理智能体之间的移交。
type Swarm struct {
	llmClient  llm.Client
	maxTurns   int
	llmTimeout time.Duration
	log        *slog.Logger
}

// Option 定义可选的 Swarm 配置。
type Option func(*Swarm)

// defaultMaxTurns 是单次运行允许的最大轮数。
const defaultMaxTurns = 10

// handoffPrefix 是移交工具名的前缀。
const handoffPrefix = "transfer_to_"

// WithMaxTurns 设置单次运行的最大轮数。
func WithMaxTurns(turns int) Option {
	return func(s *Swarm) {
		s.maxTurns = turns
	}
}

// WithLLMTimeout 设置每次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(s *Swarm) {
		if timeout <= 0 {
			s.llmTimeout = 0
			return
		}
		s.llmTimeout = timeout
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Swarm) {
		if l != nil {
			s.log = l
		}
	}
}

// New 创建一个 Swarm。
func New(llmClient llm.Client, opts ...Option) *Swarm {
	s := &Swarm{
		llmClient: llmClient,
		maxTurns:  defaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.maxTurns <= 0 {
		s.maxTurns = defaultMaxTurns
	}
	if s.log == nil {
		s.log = logger.Named("swarm")
	}
	return s
}

// Run 从 req.Agent 开始对话，直到模型给出不含工具调用的回复或达到最大轮数。
func (s *Swarm) Run(ctx context.Context, req RunRequest) (*Response, error) {
	if s.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeAgentFailure, "未配置大模型客户端")
	}
	if req.Agent == nil {
		return nil, xerrors.New(xerrors.CodeAgentFailure, "未指定起始智能体")
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = s.maxTurns
	}

	history := make([]llm.Message, len(req.Messages))
	copy(history, req.Messages)
	start := len(history)

	active := req.Agent
	turns := 0
	for turns < maxTurns {
		turns++

		reply, err := s.complete(ctx, active, history)
		if err != nil {
			return nil, err
		}
		reply.Sender = active.Name
		history = append(history, reply)

		s.log.Debug("智能体回复",
			slog.String("agent", active.Name),
			slog.Int("turn", turns),
			slog.Int("tool_calls", len(reply.ToolCalls)))

		if len(reply.ToolCalls) == 0 {
			break
		}

		next := s.handleToolCalls(active, reply.ToolCalls, &history)
		if next != nil {
			s.log.Info("智能体移交", slog.String("from", active.Name), slog.String("to", next.Name))
			active = next
		}
	}

	return &Response{
		Messages: history[start:],
		Agent:    active,
		Turns:    turns,
	}, nil
}

func (s *Swarm) complete(ctx context.Context, active *Agent, history []llm.Message) (llm.Message, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	if instructions := strings.TrimSpace(active.Instructions); instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instructions})
	}
	messages = append(messages, history...)

	llmCtx := ctx
	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}

	resp, err := s.llmClient.Generate(llmCtx, llm.Request{
		Model:    active.Model,
		Messages: messages,
		Tools:    handoffTools(active),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return llm.Message{}, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return llm.Message{}, xerrors.Wrap(xerrors.CodeAgentFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return llm.Message{}, xerrors.New(xerrors.CodeAgentFailure, "大模型返回空响应")
	}
	reply := resp.Message
	reply.Role = llm.RoleAssistant
	reply.Name = ""
	return reply, nil
}

// handleToolCalls 为每个工具调用追加 tool 消息，并返回最后一个移交目标。
func (s *Swarm) handleToolCalls(active *Agent, calls []llm.ToolCall, history *[]llm.Message) *Agent {
	var next *Agent
	for _, call := range calls {
		target := findHandoff(active, call.Name)
		content := ""
		if target == nil {
			content = fmt.Sprintf("Error: Tool %s not found.", call.Name)
			s.log.Warn("未知的工具调用", slog.String("agent", active.Name), slog.String("tool", call.Name))
		} else {
			encoded, _ := json.Marshal(map[string]string{"assistant": target.Name})
			content = string(encoded)
			next = target
		}
		*history = append(*history, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    content,
		})
	}
	return next
}

func handoffTools(a *Agent) []llm.Tool {
	if len(a.Handoffs) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(a.Handoffs))
	for _, target := range a.Handoffs {
		if target == nil {
			continue
		}
		tools = append(tools, llm.Tool{
			Name:        HandoffToolName(target),
			Description: fmt.Sprintf("Hand the conversation over to %s.", target.Name),
		})
	}
	return tools
}

func findHandoff(a *Agent, toolName string) *Agent {
	for _, target := range a.Handoffs {
		if target != nil && HandoffToolName(target) == toolName {
			return target
		}
	}
	return nil
}

// HandoffToolName 返回移交到目标智能体时使用的工具名。
func HandoffToolName(target *Agent) string {
	var b strings.Builder
	b.WriteString(handoffPrefix)
	for _, r := range strings.ToLower(strings.TrimSpace(target.Name)) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
