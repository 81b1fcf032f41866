package machineid

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "machineid-swarm/internal/errors"
)

const (
	// DefaultBaseURL 是公共服务地址。
	DefaultBaseURL = "https://machineid.io"
	// DefaultTimeout 是单次请求的超时时间。
	DefaultTimeout = 12 * time.Second

	registerPath = "/api/v1/devices/register"
	validatePath = "/api/v1/devices/validate"

	orgKeyHeader = "x-org-key"
	maxBodyBytes = 1 << 20
)

// Endpoint 标识被调用的接口，用于指标与日志。
type Endpoint string

const (
	EndpointRegister Endpoint = "register"
	EndpointValidate Endpoint = "validate"
)

// Observer 在每次请求结束后被调用。status 为 0 表示请求未得到响应。
type Observer func(endpoint Endpoint, method string, status int, duration time.Duration)

// Config 描述访问设备服务所需的信息。
type Config struct {
	BaseURL    string
	OrgKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// Client 封装设备注册与校验接口。
type Client struct {
	baseURL    string
	orgKey     string
	httpClient *http.Client
	observer   Observer
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	orgKey := strings.TrimSpace(cfg.OrgKey)
	if orgKey == "" {
		return nil, xerrors.New(xerrors.CodeMissingEnv, "未提供 org key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "base url 不合法")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		orgKey:     orgKey,
		httpClient: httpClient,
		observer:   cfg.Observer,
	}, nil
}

// BaseURL 返回规范化后的服务地址。
func (c *Client) BaseURL() string { return c.baseURL }

// Register 注册设备。接口是幂等的，重复注册返回 exists。
func (c *Client) Register(ctx context.Context, deviceID string) (*Result, error) {
	return c.postJSON(ctx, EndpointRegister, registerPath, map[string]string{"deviceId": deviceID})
}

// Validate 以 POST 方式校验设备，这是推荐的调用方式。
func (c *Client) Validate(ctx context.Context, deviceID string) (*Result, error) {
	return c.postJSON(ctx, EndpointValidate, validatePath, map[string]string{"deviceId": deviceID})
}

// ValidateGet 以 GET 加查询参数的方式校验设备。
func (c *Client) ValidateGet(ctx context.Context, deviceID string) (*Result, error) {
	query := url.Values{}
	query.Set("deviceId", deviceID)
	endpoint := c.baseURL + validatePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "构建校验请求失败")
	}
	req.Header.Set(orgKeyHeader, c.orgKey)
	return c.do(EndpointValidate, req)
}

// ValidateWith 根据 method 选择 POST 或 GET 校验。
func (c *Client) ValidateWith(ctx context.Context, method, deviceID string) (*Result, error) {
	if strings.EqualFold(method, http.MethodGet) {
		return c.ValidateGet(ctx, deviceID)
	}
	return c.Validate(ctx, deviceID)
}

func (c *Client) postJSON(ctx context.Context, name Endpoint, path string, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "序列化请求失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "构建请求失败")
	}
	req.Header.Set(orgKeyHeader, c.orgKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(name, req)
}

func (c *Client) do(name Endpoint, req *http.Request) (*Result, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(name, req.Method, 0, time.Since(start))
		if stdErrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("请求 %s 超时", name))
		}
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, fmt.Sprintf("请求 %s 失败", name))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(name, req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, fmt.Sprintf("读取 %s 响应失败", name))
	}
	return normalize(resp.StatusCode, raw), nil
}

// normalize 将任意响应统一为 Result。
func normalize(status int, raw []byte) *Result {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return errorResult(fmt.Sprintf("Non-JSON response (HTTP %d)", status), status, string(raw))
	}

	obj, isObject := data.(map[string]any)
	if status >= http.StatusBadRequest {
		if isObject {
			if msg, ok := obj["error"]; ok && truthy(msg) {
				return errorResult(fmt.Sprint(msg), status, nil)
			}
		}
		return errorResult(fmt.Sprintf("HTTP %d", status), status, data)
	}

	if !isObject {
		return errorResult(fmt.Sprintf("Unexpected JSON response (HTTP %d)", status), status, data)
	}
	return NewResult(obj)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return stdErrors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) observe(name Endpoint, method string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(name, method, status, duration)
	}
}
