package machineid

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// 服务端返回的 status 取值。
const (
	StatusOK           = "ok"
	StatusExists       = "exists"
	StatusLimitReached = "limit_reached"
	StatusError        = "error"
)

// Result 是注册或校验接口的一次响应，已统一为字典形式。
//
// HTTP 错误与非 JSON 响应同样会被映射为 status=error 的 Result，而不是 Go error。
type Result struct {
	raw map[string]any
}

// NewResult 基于已解码的 JSON 对象构造 Result。
func NewResult(raw map[string]any) *Result {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Result{raw: raw}
}

// errorResult 构造 status=error 的响应。
func errorResult(message string, httpStatus int, body any) *Result {
	raw := map[string]any{
		"status": StatusError,
		"error":  message,
		"http":   httpStatus,
	}
	if body != nil {
		raw["body"] = body
	}
	return &Result{raw: raw}
}

// Raw 返回底层字典的浅拷贝。
func (r *Result) Raw() map[string]any {
	clone := make(map[string]any, len(r.raw))
	for k, v := range r.raw {
		clone[k] = v
	}
	return clone
}

// Get 读取任意字段。
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.raw[key]
	return v, ok
}

// Status 返回 status 字段。
func (r *Result) Status() string { return r.String("status") }

// Allowed 返回 allowed 字段，缺失时视为 false。
func (r *Result) Allowed() bool {
	v, ok := r.raw["allowed"]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}

// Code 返回决策码；部分部署只返回 reason。
func (r *Result) Code() string {
	if code := r.String("code"); code != "" {
		return code
	}
	return r.String("reason")
}

// Reason 返回 reason 字段。
func (r *Result) Reason() string { return r.String("reason") }

// RequestID 返回服务端请求 ID。
func (r *Result) RequestID() string { return r.String("request_id") }

// Handler 返回处理请求的服务端组件名。
func (r *Result) Handler() string { return r.String("handler") }

// PlanTier 返回套餐等级。
func (r *Result) PlanTier() string { return r.String("planTier") }

// ErrorMessage 返回 error 字段。
func (r *Result) ErrorMessage() string { return r.String("error") }

// HTTPStatus 返回映射错误时记录的 HTTP 状态码。
func (r *Result) HTTPStatus() int {
	n, _ := r.Int("http")
	return n
}

// Limit 返回套餐允许的设备数量。
func (r *Result) Limit() (int, bool) { return r.Int("limit") }

// DevicesUsed 返回已占用的设备数量。
func (r *Result) DevicesUsed() (int, bool) { return r.Int("devicesUsed") }

// Remaining 返回剩余的设备数量。
func (r *Result) Remaining() (int, bool) { return r.Int("remaining") }

// Registered 判断注册是否成功，仅 ok 与 exists 视为成功。
func (r *Result) Registered() bool {
	switch r.Status() {
	case StatusOK, StatusExists:
		return true
	default:
		return false
	}
}

// LimitReached 判断是否触达套餐上限。
func (r *Result) LimitReached() bool {
	return r.Status() == StatusLimitReached
}

// String 以字符串形式读取字段，缺失或为 null 时返回空串。
func (r *Result) String(key string) string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Int 以整数形式读取字段。
func (r *Result) Int(key string) (int, bool) {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

// Format 返回按键排序的 JSON 表示，用于日志输出。
func (r *Result) Format() string {
	encoded, err := json.Marshal(r.raw)
	if err != nil {
		return fmt.Sprint(r.raw)
	}
	return string(encoded)
}
