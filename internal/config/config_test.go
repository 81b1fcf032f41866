package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "machineid-swarm/internal/errors"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{LookupEnv: mapLookup(map[string]string{
		EnvOrgKey:    "org_1234567890abcdef",
		EnvOpenAIKey: "sk-test",
	})})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MachineID.DeviceID != DefaultDeviceID {
		t.Fatalf("unexpected device id: %q", cfg.MachineID.DeviceID)
	}
	if cfg.MachineID.BaseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url: %q", cfg.MachineID.BaseURL)
	}
	if cfg.MachineID.ValidateMethod != "POST" {
		t.Fatalf("unexpected validate method: %q", cfg.MachineID.ValidateMethod)
	}
	if cfg.MachineID.Timeout() != 12*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.MachineID.Timeout())
	}
	if cfg.MachineID.SettleDelay() != time.Second {
		t.Fatalf("unexpected settle delay: %s", cfg.MachineID.SettleDelay())
	}
	if cfg.Storage.Driver != "none" {
		t.Fatalf("unexpected storage driver: %q", cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.MaskedOrgKey(); got != "org_12345678..." {
		t.Fatalf("unexpected masked key: %q", got)
	}
}

func TestLoadTrimsAndStripsBaseURL(t *testing.T) {
	cfg, err := Load(LoadOptions{LookupEnv: mapLookup(map[string]string{
		EnvOrgKey:   "  org_key  ",
		EnvDeviceID: "   ",
		EnvBaseURL:  "http://localhost:8080//",
	})})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MachineID.OrgKey != "org_key" {
		t.Fatalf("org key not trimmed: %q", cfg.MachineID.OrgKey)
	}
	if cfg.MachineID.DeviceID != DefaultDeviceID {
		t.Fatalf("blank device id should fall back to default, got %q", cfg.MachineID.DeviceID)
	}
	if cfg.MachineID.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url: %q", cfg.MachineID.BaseURL)
	}
}

func TestValidateMissingEnv(t *testing.T) {
	cfg, err := Load(LoadOptions{LookupEnv: mapLookup(map[string]string{})})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Validate()
	if xerrors.CodeOf(err) != xerrors.CodeMissingEnv {
		t.Fatalf("expected missing env error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Missing MACHINEID_ORG_KEY") || !strings.Contains(err.Error(), "export OPENAI_API_KEY") {
		t.Fatalf("usage hint missing: %v", err)
	}
	if xerrors.ExitCodeOf(err) != 1 {
		t.Fatalf("missing env must exit 1")
	}

	cfg.MachineID.OrgKey = "org"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "Missing OPENAI_API_KEY") {
		t.Fatalf("expected openai key error, got %v", err)
	}

	cfg.Runtime.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dry run should not need openai key: %v", err)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "worker.yaml")
	content := `
machineid:
  device_id: from-file
  base_url: https://file.example
  settle_delay_ms: 0
storage:
  driver: sqlite
runtime:
  data_dir: state
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MACHINEID_ORG_KEY=org_from_dotenv\nMACHINEID_BASE_URL=https://dotenv.example\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Path:     cfgPath,
		EnvFiles: []string{envPath, filepath.Join(dir, "missing.env")},
		LookupEnv: mapLookup(map[string]string{
			EnvBaseURL: "https://env.example",
		}),
		Overrides: Overrides{DeviceID: "from-flag", ValidateMethod: "get"},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MachineID.OrgKey != "org_from_dotenv" {
		t.Fatalf("expected org key from .env, got %q", cfg.MachineID.OrgKey)
	}
	if cfg.MachineID.BaseURL != "https://env.example" {
		t.Fatalf("process env should win over .env, got %q", cfg.MachineID.BaseURL)
	}
	if cfg.MachineID.DeviceID != "from-flag" {
		t.Fatalf("flag should win, got %q", cfg.MachineID.DeviceID)
	}
	if cfg.MachineID.ValidateMethod != "GET" {
		t.Fatalf("unexpected method %q", cfg.MachineID.ValidateMethod)
	}
	if cfg.MachineID.SettleDelay() != 0 {
		t.Fatalf("explicit zero delay ignored: %s", cfg.MachineID.SettleDelay())
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("data dir not resolved against config dir: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	_, err := Load(LoadOptions{
		LookupEnv: mapLookup(map[string]string{EnvValidateMethod: "PUT"}),
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
