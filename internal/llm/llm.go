package llm

import "context"

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是一条对话消息。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	// Sender 记录产生该消息的智能体，仅在本地使用，不会发送给模型。
	Sender     string     `json:"-"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall 描述模型发起的一次函数调用。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool 描述可供模型调用的函数。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 描述发送给大模型的对话上下文。
type Request struct {
	// Model 为空时使用客户端默认模型。
	Model    string
	Messages []Message
	Tools    []Tool
}

// Response 是大模型返回的 assistant 消息。
type Response struct {
	Message Message
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
