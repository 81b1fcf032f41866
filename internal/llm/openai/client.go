package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"machineid-swarm/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回默认模型名。
func (c *Client) Model() string { return c.model }

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// Generate 调用 OpenAI 生成下一条 assistant 消息。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("OpenAI 请求缺少消息")
	}
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	wire := decoded.Choices[0].Message
	msg := llm.Message{Role: llm.RoleAssistant, Name: wire.Name}
	if wire.Content != nil {
		msg.Content = strings.TrimSpace(*wire.Content)
	}
	for _, call := range wire.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	return &llm.Response{Message: msg}, nil
}

// wireName 丢弃不符合接口命名规则的 name，接口会以 400 拒绝这类消息。
func wireName(name string) string {
	if name == "" || strings.ContainsAny(name, "<|\\/>") || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return ""
	}
	return name
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := m.Content
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    &content,
			Name:       wireName(m.Name),
			ToolCallID: m.ToolCallID,
		}
		// 仅包含工具调用的 assistant 消息 content 为 null。
		if m.Role == llm.RoleAssistant && content == "" && len(m.ToolCalls) > 0 {
			wm.Content = nil
		}
		for _, call := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: wireFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
		messages = append(messages, wm)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": 0.2,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			params := tool.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  params,
				},
			})
		}
		body["tools"] = tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}
