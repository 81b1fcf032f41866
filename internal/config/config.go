package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xerrors "machineid-swarm/internal/errors"
)

// worker 读取的环境变量。
const (
	EnvOrgKey         = "MACHINEID_ORG_KEY"
	EnvDeviceID       = "MACHINEID_DEVICE_ID"
	EnvBaseURL        = "MACHINEID_BASE_URL"
	EnvValidateMethod = "MACHINEID_VALIDATE_METHOD"
	EnvConfigPath     = "MACHINEID_CONFIG"
	EnvLogLevel       = "MACHINEID_LOG_LEVEL"
	EnvLogFormat      = "MACHINEID_LOG_FORMAT"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "OPENAI_BASE_URL"
	EnvOpenAIModel    = "OPENAI_MODEL"
)

const (
	DefaultDeviceID = "swarm:worker-01"
	DefaultBaseURL  = "https://machineid.io"

	defaultHTTPTimeout   = 12 * time.Second
	defaultSettleDelay   = time.Second
	defaultOpenAITimeout = 60 * time.Second
	defaultMaxTurns      = 10
)

// Config 描述了 worker 启动时需要的全部配置。
type Config struct {
	MachineID MachineIDConfig `yaml:"machineid"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Agent     AgentConfig     `yaml:"agent"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// MachineIDConfig 描述设备注册与校验服务的访问方式。
type MachineIDConfig struct {
	OrgKey         string `yaml:"org_key"`
	DeviceID       string `yaml:"device_id"`
	BaseURL        string `yaml:"base_url"`
	ValidateMethod string `yaml:"validate_method"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// SettleDelayMillis 是注册与校验之间的固定等待。
	SettleDelayMillis *int `yaml:"settle_delay_ms"`
}

// Timeout 返回单次 HTTP 调用的超时时间。
func (c MachineIDConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultHTTPTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleDelay 返回注册后等待的时长。
func (c MachineIDConfig) SettleDelay() time.Duration {
	if c.SettleDelayMillis == nil {
		return defaultSettleDelay
	}
	if *c.SettleDelayMillis <= 0 {
		return 0
	}
	return time.Duration(*c.SettleDelayMillis) * time.Millisecond
}

// OpenAIConfig 描述调用 Chat Completions API 的参数。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultOpenAITimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 控制 Swarm 运行。
type AgentConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// StorageConfig 描述运行历史的存储位置。
type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// EventsConfig 描述网关决策事件的投递目标。
type EventsConfig struct {
	Drivers  []string       `yaml:"drivers"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis list 投递参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// RabbitMQConfig 描述 RabbitMQ 投递参数。
type RabbitMQConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// MetricsConfig 控制进程退出前指标的导出方式。
type MetricsConfig struct {
	TextfilePath   string `yaml:"textfile_path"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// RuntimeConfig 放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
	DryRun  bool   `yaml:"dry_run"`
}

// Overrides 保存命令行传入的覆盖值，空值表示不覆盖。
type Overrides struct {
	DeviceID       string
	BaseURL        string
	ValidateMethod string
	LogLevel       string
	DryRun         bool
}

// LoadOptions 控制配置加载的来源。
type LoadOptions struct {
	// Path 为可选的 YAML 配置文件。
	Path string
	// EnvFiles 为可选的 .env 文件，进程环境变量优先。
	EnvFiles []string
	// LookupEnv 默认使用 os.LookupEnv。
	LookupEnv func(string) (string, bool)
	Overrides Overrides
}

// Load 依次合并默认值、配置文件、.env、环境变量与命令行参数。
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = envValue(lookup, EnvConfigPath)
	}

	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "读取配置文件失败")
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "解析配置文件失败")
		}
		baseDir = filepath.Dir(path)
	}

	dotenv, err := readEnvFiles(opts.EnvFiles)
	if err != nil {
		return nil, err
	}
	env := func(key string) string {
		if v := envValue(lookup, key); v != "" {
			return v
		}
		return strings.TrimSpace(dotenv[key])
	}

	cfg.applyEnv(env)
	cfg.applyOverrides(opts.Overrides)
	cfg.applyDefaults(baseDir)

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readEnvFiles(paths []string) (map[string]string, error) {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "读取 .env 文件失败")
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(existing...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidConfig, err, "解析 .env 文件失败")
	}
	return values, nil
}

// envValue 返回去除空白后的值，空串视为未设置。
func envValue(lookup func(string) (string, bool), key string) string {
	v, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (c *Config) applyEnv(env func(string) string) {
	setIf(&c.MachineID.OrgKey, env(EnvOrgKey))
	setIf(&c.MachineID.DeviceID, env(EnvDeviceID))
	setIf(&c.MachineID.BaseURL, env(EnvBaseURL))
	setIf(&c.MachineID.ValidateMethod, env(EnvValidateMethod))
	setIf(&c.OpenAI.APIKey, env(EnvOpenAIKey))
	setIf(&c.OpenAI.BaseURL, env(EnvOpenAIBaseURL))
	setIf(&c.OpenAI.Model, env(EnvOpenAIModel))
	setIf(&c.Log.Level, env(EnvLogLevel))
	setIf(&c.Log.Format, env(EnvLogFormat))
}

func (c *Config) applyOverrides(o Overrides) {
	setIf(&c.MachineID.DeviceID, strings.TrimSpace(o.DeviceID))
	setIf(&c.MachineID.BaseURL, strings.TrimSpace(o.BaseURL))
	setIf(&c.MachineID.ValidateMethod, strings.TrimSpace(o.ValidateMethod))
	setIf(&c.Log.Level, strings.TrimSpace(o.LogLevel))
	if o.DryRun {
		c.Runtime.DryRun = true
	}
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.MachineID.OrgKey = strings.TrimSpace(c.MachineID.OrgKey)
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)

	if strings.TrimSpace(c.MachineID.DeviceID) == "" {
		c.MachineID.DeviceID = DefaultDeviceID
	}
	if strings.TrimSpace(c.MachineID.BaseURL) == "" {
		c.MachineID.BaseURL = DefaultBaseURL
	}
	c.MachineID.BaseURL = strings.TrimRight(strings.TrimSpace(c.MachineID.BaseURL), "/")

	c.MachineID.ValidateMethod = strings.ToUpper(strings.TrimSpace(c.MachineID.ValidateMethod))
	if c.MachineID.ValidateMethod == "" {
		c.MachineID.ValidateMethod = "POST"
	}

	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = defaultMaxTurns
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "none"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)

	if len(c.Events.Drivers) == 0 {
		c.Events.Drivers = []string{"log"}
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = "machineid_swarm_worker"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Log.AuditPath != "" && !filepath.IsAbs(c.Log.AuditPath) {
		c.Log.AuditPath = filepath.Join(baseDir, c.Log.AuditPath)
	}
}

// check 校验与凭据无关的取值范围。
func (c *Config) check() error {
	switch c.MachineID.ValidateMethod {
	case "POST", "GET":
	default:
		return xerrors.New(xerrors.CodeInvalidConfig, fmt.Sprintf("不支持的校验方式: %s", c.MachineID.ValidateMethod))
	}
	switch c.Storage.Driver {
	case "none", "memory", "mysql", "sqlite":
	default:
		return xerrors.New(xerrors.CodeInvalidConfig, fmt.Sprintf("未知的存储驱动: %s", c.Storage.Driver))
	}
	return nil
}

// Validate 在发起任何网络请求之前检查必需的凭据。
func (c *Config) Validate() error {
	if c.MachineID.OrgKey == "" {
		return missingEnv(EnvOrgKey)
	}
	// Swarm 依赖 OpenAI，提前失败以给出明确提示。
	if !c.Runtime.DryRun && c.OpenAI.APIKey == "" {
		return missingEnv(EnvOpenAIKey)
	}
	return nil
}

func missingEnv(name string) error {
	msg := fmt.Sprintf("Missing %s.\n"+
		"Example:\n"+
		"  export %s=org_your_key_here\n"+
		"  export %s=sk_your_openai_key_here\n", name, EnvOrgKey, EnvOpenAIKey)
	return xerrors.New(xerrors.CodeMissingEnv, msg, xerrors.WithMetadata("variable", name))
}

// MaskedOrgKey 返回可以安全打印的 org key 前缀。
func (c *Config) MaskedOrgKey() string {
	key := c.MachineID.OrgKey
	runes := []rune(key)
	if len(runes) > 12 {
		key = string(runes[:12])
	}
	return key + "..."
}
