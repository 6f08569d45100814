// =============================================================================
// 📦 CallFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("callflow.yaml").
//	    WithEnvPrefix("CALLFLOW").
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

// Config 是 CallFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// JWT 管理接口认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Orchestrator 通话编排配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Providers 语音供应商配置
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Agent 对话 Agent 配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Persistence 轮次事件持久化配置
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 媒体流 WebSocket 路径
	MediaStreamPath string `yaml:"media_stream_path" env:"MEDIA_STREAM_PATH"`
	// 单连接每秒最大入站帧数
	MaxFramesPerSecond float64 `yaml:"max_frames_per_second" env:"MAX_FRAMES_PER_SECOND"`
	// 入站帧突发上限
	FrameBurst int `yaml:"frame_burst" env:"FRAME_BURST"`
	// TLS 证书文件，与 TLSKeyFile 同时配置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	// TLS 私钥文件
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// JWTConfig 管理接口的 JWT 认证配置，Secret 与 PublicKey 都为空时不启用
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的 iss
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的 aud
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 报告是否配置了验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// OrchestratorConfig 通话编排配置
type OrchestratorConfig struct {
	// 音频编码: mulaw, pcm16
	Encoding string `yaml:"encoding" env:"ENCODING"`
	// 采样率
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 单帧时长
	FrameDuration time.Duration `yaml:"frame_duration" env:"FRAME_DURATION"`
	// 入站缓冲容量（帧）
	InboundCapacity int `yaml:"inbound_capacity" env:"INBOUND_CAPACITY"`
	// 出站缓冲容量（帧）
	OutboundCapacity int `yaml:"outbound_capacity" env:"OUTBOUND_CAPACITY"`
	// 入站写入阻塞上限，超过即 BufferOverrun
	OverrunTimeout time.Duration `yaml:"overrun_timeout" env:"OVERRUN_TIMEOUT"`
	// 语音结束静音判定时长
	EndOfSpeechTimeout time.Duration `yaml:"end_of_speech_timeout" env:"END_OF_SPEECH_TIMEOUT"`
	// 静音后等待 STT final 的时长
	STTFinalTimeout time.Duration `yaml:"stt_final_timeout" env:"STT_FINAL_TIMEOUT"`
	// Agent 推理截止时间
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout" env:"REASONING_TIMEOUT"`
	// 无入站音频的空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 结束会话时等待任务退出的宽限期
	EndSessionGrace time.Duration `yaml:"end_session_grace" env:"END_SESSION_GRACE"`
	// 静音 RMS 阈值 (0.0-1.0)
	SilenceThreshold float64 `yaml:"silence_threshold" env:"SILENCE_THRESHOLD"`
	// 单次发言最长时长
	MaxUtterance time.Duration `yaml:"max_utterance" env:"MAX_UTTERANCE"`
	// 连续中止轮次上限，超过后转接并挂断
	MaxConsecutiveAborts int `yaml:"max_consecutive_aborts" env:"MAX_CONSECUTIVE_ABORTS"`
	// 推理超时或失败时的兜底话术
	FallbackUtterance string `yaml:"fallback_utterance" env:"FALLBACK_UTTERANCE"`
	// 无可用 STT 时的致歉话术
	ApologyUtterance string `yaml:"apology_utterance" env:"APOLOGY_UTTERANCE"`
	// 级联故障时的转接话术
	TransferUtterance string `yaml:"transfer_utterance" env:"TRANSFER_UTTERANCE"`
}

// ProvidersConfig 语音供应商配置
type ProvidersConfig struct {
	Deepgram      DeepgramConfig   `yaml:"deepgram" env:"DEEPGRAM"`
	OpenAIWhisper WhisperConfig    `yaml:"openai_whisper" env:"OPENAI_WHISPER"`
	ElevenLabs    ElevenLabsConfig `yaml:"elevenlabs" env:"ELEVENLABS"`
	OpenAITTS     OpenAITTSConfig  `yaml:"openai_tts" env:"OPENAI_TTS"`
	Retry         RetryConfig      `yaml:"retry" env:"RETRY"`
	Health        HealthConfig     `yaml:"health" env:"HEALTH"`
}

// ProviderConfig 单个供应商的公共配置
type ProviderConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 池内优先级，数值越小越优先
	Priority int `yaml:"priority" env:"PRIORITY"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DeepgramConfig Deepgram STT 配置
type DeepgramConfig struct {
	ProviderConfig `yaml:",inline" env:""`
	Language       string `yaml:"language" env:"LANGUAGE"`
}

// WhisperConfig OpenAI Whisper STT 配置
type WhisperConfig struct {
	ProviderConfig `yaml:",inline" env:""`
	Language       string `yaml:"language" env:"LANGUAGE"`
}

// ElevenLabsConfig ElevenLabs TTS 配置
type ElevenLabsConfig struct {
	ProviderConfig `yaml:",inline" env:""`
	VoiceID        string `yaml:"voice_id" env:"VOICE_ID"`
}

// OpenAITTSConfig OpenAI TTS 配置
type OpenAITTSConfig struct {
	ProviderConfig `yaml:",inline" env:""`
	Voice          string  `yaml:"voice" env:"VOICE"`
	Speed          float64 `yaml:"speed" env:"SPEED"`
}

// RetryConfig 供应商瞬时错误重试配置
type RetryConfig struct {
	// 总尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 倍增因子
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// HealthConfig 供应商健康状态配置
type HealthConfig struct {
	// 连续失败多少次进入 Unhealthy
	UnhealthyAfter int `yaml:"unhealthy_after" env:"UNHEALTHY_AFTER"`
	// fatal 失败后可被重置前的冷却时间
	FatalCooldown time.Duration `yaml:"fatal_cooldown" env:"FATAL_COOLDOWN"`
	// 主动探活间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// AgentConfig 对话 Agent 配置
type AgentConfig struct {
	// OpenAI 兼容接口地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 系统提示词
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大输出 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// HTTP 超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 上下文 Token 预算
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// 单轮最多工具调用轮数
	MaxToolRounds int `yaml:"max_tool_rounds" env:"MAX_TOOL_ROUNDS"`
	// 启用的工具
	Tools []string `yaml:"tools" env:"TOOLS"`
}

// PersistenceConfig 轮次事件持久化配置
type PersistenceConfig struct {
	// 驱动: none, memory, redis, database, mongo
	Driver string `yaml:"driver" env:"DRIVER"`
	// 事件队列容量
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 写入协程数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 失败事件本地暂存上限
	SpoolSize int `yaml:"spool_size" env:"SPOOL_SIZE"`
	// 单次写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 写入重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试初始延迟
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 熔断阈值
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复时间
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
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
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 轮次事件 Stream 键
	StreamKey string `yaml:"stream_key" env:"STREAM_KEY"`
	// Stream 近似最大长度
	MaxStreamLen int64 `yaml:"max_stream_len" env:"MAX_STREAM_LEN"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 转写与幂等键的保留时长
	EventTTL time.Duration `yaml:"event_ttl" env:"EVENT_TTL"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
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
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时是否执行 AutoMigrate
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
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
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
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
		envPrefix:  "CALLFLOW",
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
// 优先级: 默认值 → YAML 文件 → 环境变量
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

// setFieldsFromEnv 递归设置结构体字段。
// 匿名嵌入字段使用空 env tag，其字段直接挂在外层前缀下。
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag, ok := fieldType.Tag.Lookup("env")
		if !ok || envTag == "-" {
			continue
		}

		if fieldType.Anonymous && envTag == "" && field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
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

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

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

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	o := c.Orchestrator
	switch o.Encoding {
	case "mulaw", "pcm16":
	default:
		errs = append(errs, "orchestrator.encoding must be mulaw or pcm16")
	}
	if o.SampleRate <= 0 {
		errs = append(errs, "orchestrator.sample_rate must be positive")
	}
	if o.InboundCapacity <= 0 || o.OutboundCapacity <= 0 {
		errs = append(errs, "buffer capacities must be positive")
	}
	if o.EndOfSpeechTimeout <= 0 {
		errs = append(errs, "orchestrator.end_of_speech_timeout must be positive")
	}
	if o.ReasoningTimeout <= 0 {
		errs = append(errs, "orchestrator.reasoning_timeout must be positive")
	}
	if o.SilenceThreshold < 0 || o.SilenceThreshold > 1 {
		errs = append(errs, "orchestrator.silence_threshold must be between 0 and 1")
	}

	p := c.Providers
	if !p.Deepgram.Enabled && !p.OpenAIWhisper.Enabled {
		errs = append(errs, "at least one STT provider must be enabled")
	}
	if !p.ElevenLabs.Enabled && !p.OpenAITTS.Enabled {
		errs = append(errs, "at least one TTS provider must be enabled")
	}
	if p.Retry.MaxAttempts <= 0 {
		errs = append(errs, "providers.retry.max_attempts must be positive")
	}
	if p.Health.UnhealthyAfter <= 0 {
		errs = append(errs, "providers.health.unhealthy_after must be positive")
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}

	switch c.Persistence.Driver {
	case "", "none", "memory", "redis", "database", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence driver %q", c.Persistence.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
