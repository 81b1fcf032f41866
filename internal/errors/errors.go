package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	// ExitCode 是该错误导致进程退出时使用的退出码。
	ExitCode int
}

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeMissingEnv       Code = "MISSING_ENV"
	CodeInvalidConfig    Code = "INVALID_CONFIG"
	CodeTransportFailure Code = "TRANSPORT_FAILURE"
	CodeRegisterFailed   Code = "REGISTER_FAILED"
	CodeLimitReached     Code = "LIMIT_REACHED"
	CodeExecutionDenied  Code = "EXECUTION_DENIED"
	CodeAgentFailure     Code = "AGENT_FAILURE"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodePublishFailure   Code = "PUBLISH_FAILURE"
	CodeTimeout          Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:          {Message: "unknown error", Severity: SeverityCritical, ExitCode: 1},
		CodeMissingEnv:       {Message: "missing environment variable", Severity: SeverityCritical, ExitCode: 1},
		CodeInvalidConfig:    {Message: "invalid configuration", Severity: SeverityCritical, ExitCode: 1},
		CodeTransportFailure: {Message: "request to remote service failed", Severity: SeverityCritical, ExitCode: 1},
		CodeRegisterFailed:   {Message: "device registration failed", Severity: SeverityWarning, ExitCode: 1},
		// 达到套餐上限或被拒绝属于正常结束。
		CodeLimitReached:    {Message: "plan limit reached", Severity: SeverityInfo, ExitCode: 0},
		CodeExecutionDenied: {Message: "execution denied", Severity: SeverityInfo, ExitCode: 0},
		CodeAgentFailure:    {Message: "agent run failed", Severity: SeverityWarning, ExitCode: 1},
		CodeStorageFailure:  {Message: "storage failure", Severity: SeverityWarning, ExitCode: 1},
		CodePublishFailure:  {Message: "publish failure", Severity: SeverityWarning, ExitCode: 1},
		CodeTimeout:         {Message: "operation timed out", Severity: SeverityWarning, ExitCode: 1},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息，不包含 cause。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// ExitCode 返回该错误对应的进程退出码。
func (e *Error) ExitCode() int {
	if e == nil {
		return 0
	}
	return AttributesOf(e.code).ExitCode
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// ExitCodeOf 将任意 error 映射为退出码，nil 映射为 0。
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := From(err); ok {
		return e.ExitCode()
	}
	return AttributesOf(CodeUnknown).ExitCode
}
