// =============================================================================
// 📦 autoheal 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("autoheal.yaml").
//	    WithEnvPrefix("AUTOHEAL").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 autoheal 的完整配置结构，构造后不可变
type Config struct {
	// Execution 执行循环与退避配置
	Execution ExecutionConfig `yaml:"execution" env:"EXECUTION"`

	// Recovery 恢复策略配置
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`

	// Healing 选择器修复配置
	Healing HealingConfig `yaml:"healing" env:"HEALING"`

	// Stability 页面稳定性检测配置
	Stability StabilityConfig `yaml:"stability" env:"STABILITY"`

	// Wait 智能等待与自适应超时配置
	Wait WaitConfig `yaml:"wait" env:"WAIT"`

	// History 历史样本存储配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Browser 浏览器驱动配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ExecutionConfig 执行循环配置
type ExecutionConfig struct {
	// 最大重试次数（总尝试次数 = MaxRetries + 1）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始退避延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大退避延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避乘数
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	// 是否添加抖动
	UseJitter bool `yaml:"use_jitter" env:"USE_JITTER"`
	// 单次尝试的静态超时
	ActionTimeout time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
	// 是否使用自适应超时
	AdaptiveTimeout bool `yaml:"adaptive_timeout" env:"ADAPTIVE_TIMEOUT"`
	// 成功后是否截图保存目标位置，供视觉修复使用
	LandmarkScreenshots bool `yaml:"landmark_screenshots" env:"LANDMARK_SCREENSHOTS"`
}

// RecoveryConfig 恢复策略配置
type RecoveryConfig struct {
	// 每次 Recover 调用的最大恢复轮数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 单个恢复动作超时
	ActionTimeout time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
	// WaitAndRetry 动作的固定等待
	WaitAndRetryDelay time.Duration `yaml:"wait_and_retry_delay" env:"WAIT_AND_RETRY_DELAY"`
	// WaitForStability 动作的最长等待
	StabilityWait time.Duration `yaml:"stability_wait" env:"STABILITY_WAIT"`
	// 是否按历史成功率调整动作顺序
	LearnFromHistory bool `yaml:"learn_from_history" env:"LEARN_FROM_HISTORY"`
}

// HealingWeights 多策略候选的置信度混合权重
type HealingWeights struct {
	Visual     float64 `yaml:"visual" env:"VISUAL"`
	Text       float64 `yaml:"text" env:"TEXT"`
	Aria       float64 `yaml:"aria" env:"ARIA"`
	Position   float64 `yaml:"position" env:"POSITION"`
	Attributes float64 `yaml:"attributes" env:"ATTRIBUTES"`
	LLM        float64 `yaml:"llm" env:"LLM"`
}

// Sum 返回权重之和
func (w HealingWeights) Sum() float64 {
	return w.Visual + w.Text + w.Aria + w.Position + w.Attributes + w.LLM
}

func (w HealingWeights) values() []float64 {
	return []float64{w.Visual, w.Text, w.Aria, w.Position, w.Attributes, w.LLM}
}

// HealingConfig 选择器修复配置
type HealingConfig struct {
	// 接受修复结果的最低置信度
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	// 策略权重
	Weights HealingWeights `yaml:"weights" env:"WEIGHTS"`
	// 多策略一致时每个额外策略的加成
	AgreementBonus float64 `yaml:"agreement_bonus" env:"AGREEMENT_BONUS"`
	// 参与实时校验的候选数量
	VerifyTopK int `yaml:"verify_top_k" env:"VERIFY_TOP_K"`
	// 单个策略超时
	StrategyTimeout time.Duration `yaml:"strategy_timeout" env:"STRATEGY_TIMEOUT"`
	// 候选最低分（低于此值直接丢弃）
	MinCandidateScore float64 `yaml:"min_candidate_score" env:"MIN_CANDIDATE_SCORE"`
	// 是否启用 LLM 策略
	EnableLLM bool `yaml:"enable_llm" env:"ENABLE_LLM"`
	// 页面摘要 Token 预算
	PromptTokenBudget int `yaml:"prompt_token_budget" env:"PROMPT_TOKEN_BUDGET"`
}

// StabilityWeights 稳定性综合评分权重
type StabilityWeights struct {
	DOM        float64 `yaml:"dom" env:"DOM"`
	Network    float64 `yaml:"network" env:"NETWORK"`
	Animations float64 `yaml:"animations" env:"ANIMATIONS"`
	Loaders    float64 `yaml:"loaders" env:"LOADERS"`
	Scripts    float64 `yaml:"scripts" env:"SCRIPTS"`
}

// Sum 返回权重之和
func (w StabilityWeights) Sum() float64 {
	return w.DOM + w.Network + w.Animations + w.Loaders + w.Scripts
}

// StabilityConfig 页面稳定性检测配置
type StabilityConfig struct {
	// 后台监控间隔
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"MONITOR_INTERVAL"`
	// DOM 变更统计窗口
	MutationWindow time.Duration `yaml:"mutation_window" env:"MUTATION_WINDOW"`
	// 视为稳定的最大 DOM 变更数
	MaxMutations int `yaml:"max_mutations" env:"MAX_MUTATIONS"`
	// 视为网络空闲的最大并发请求数
	NetworkIdleThreshold int `yaml:"network_idle_threshold" env:"NETWORK_IDLE_THRESHOLD"`
	// 请求数低于阈值需持续的时长
	NetworkIdleDuration time.Duration `yaml:"network_idle_duration" env:"NETWORK_IDLE_DURATION"`
	// 加载指示器选择器
	LoaderSelectors []string `yaml:"loader_selectors" env:"LOADER_SELECTORS"`
	// 综合评分达到该值视为稳定
	MinScore float64 `yaml:"min_score" env:"MIN_SCORE"`
	// 评分权重
	Weights StabilityWeights `yaml:"weights" env:"WEIGHTS"`
	// 单次信号采集超时
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

// WaitConfig 智能等待配置
type WaitConfig struct {
	// 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 默认最长等待
	DefaultMaxWait time.Duration `yaml:"default_max_wait" env:"DEFAULT_MAX_WAIT"`
	// 历史不足时的静态超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 自适应超时下限
	MinTimeout time.Duration `yaml:"min_timeout" env:"MIN_TIMEOUT"`
	// 自适应超时上限
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
	// 启用自适应计算所需的最少成功样本
	MinSamples int `yaml:"min_samples" env:"MIN_SAMPLES"`
	// 百分位（0-1）
	Percentile float64 `yaml:"percentile" env:"PERCENTILE"`
	// 安全系数
	SafetyFactor float64 `yaml:"safety_factor" env:"SAFETY_FACTOR"`
}

// HistoryConfig 历史样本存储配置
type HistoryConfig struct {
	// 后端类型: memory, file, redis, sql, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// 每个键的滚动窗口容量
	WindowSize int `yaml:"window_size" env:"WINDOW_SIZE"`
	// 文件后端目录
	Dir string `yaml:"dir" env:"DIR"`
	// Redis 后端
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 后端
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// Mongo 后端
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BrowserConfig 浏览器驱动配置
type BrowserConfig struct {
	// 驱动: chromedp, playwright
	Driver string `yaml:"driver" env:"DRIVER"`
	// 无头模式
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// 视口宽度
	ViewportWidth int `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	// 视口高度
	ViewportHeight int `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	// 导航超时
	NavigationTimeout time.Duration `yaml:"navigation_timeout" env:"NAVIGATION_TIMEOUT"`
	// User-Agent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 启动时打开的地址
	StartURL string `yaml:"start_url" env:"START_URL"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，兼容 OpenAI 协议的服务）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 最大输出 Token
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// Token 计数器: estimate, tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
	// 熔断阈值
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复时间
	BreakerTimeout time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
	// 补全结果本地缓存条目数，0 表示不缓存
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 补全结果缓存时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// /metrics 监听地址
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AUTOHEAL",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
