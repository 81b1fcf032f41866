package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := Wrap(CodeTransportFailure, cause, "请求注册接口失败")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeTransportFailure, "")) {
		t.Fatalf("expected code match via errors.Is")
	}
	if CodeOf(fmt.Errorf("outer: %w", err)) != CodeTransportFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
}

func TestExitCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "limit reached", err: New(CodeLimitReached, ""), want: 0},
		{name: "denied", err: New(CodeExecutionDenied, ""), want: 0},
		{name: "missing env", err: New(CodeMissingEnv, ""), want: 1},
		{name: "agent", err: fmt.Errorf("run: %w", New(CodeAgentFailure, "")), want: 1},
		{name: "plain", err: stdErrors.New("boom"), want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCodeOf(tc.err); got != tc.want {
				t.Fatalf("exit code = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, ExitCode: 3})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("unexpected default message: %q", err.Message())
	}
	if err.ExitCode() != 3 {
		t.Fatalf("unexpected exit code: %d", err.ExitCode())
	}
	if AttributesOf("NOT_REGISTERED").Severity != SeverityCritical {
		t.Fatalf("expected unknown fallback")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeRegisterFailed, "", WithMetadata("status", "error"), WithSeverity(SeverityCritical))
	meta := err.Metadata()
	meta["status"] = "changed"
	if err.Metadata()["status"] != "error" {
		t.Fatalf("metadata should be cloned")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("severity override ignored")
	}
}
