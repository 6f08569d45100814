// =============================================================================
// 📦 CallFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Providers:    DefaultProvidersConfig(),
		Agent:        DefaultAgentConfig(),
		Persistence:  DefaultPersistenceConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Mongo:        DefaultMongoConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		MediaStreamPath:    "/media-stream",
		MaxFramesPerSecond: 100,
		FrameBurst:         50,
	}
}

// DefaultOrchestratorConfig 返回默认编排配置（8kHz μ-law，20ms 帧）
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Encoding:             "mulaw",
		SampleRate:           8000,
		FrameDuration:        20 * time.Millisecond,
		InboundCapacity:      256,
		OutboundCapacity:     256,
		OverrunTimeout:       2 * time.Second,
		EndOfSpeechTimeout:   700 * time.Millisecond,
		STTFinalTimeout:      2 * time.Second,
		ReasoningTimeout:     8 * time.Second,
		IdleTimeout:          30 * time.Second,
		EndSessionGrace:      2 * time.Second,
		SilenceThreshold:     0.02,
		MaxUtterance:         30 * time.Second,
		MaxConsecutiveAborts: 3,
		FallbackUtterance:    "Sorry, I need a moment. Could you say that again?",
		ApologyUtterance:     "I'm sorry, I'm having trouble hearing you right now. Please hold.",
		TransferUtterance:    "Let me transfer you to a colleague who can help.",
	}
}

// DefaultProvidersConfig 返回默认供应商配置
// STT: deepgram 优先，whisper 兜底；TTS: elevenlabs 优先，openai 兜底
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Deepgram: DeepgramConfig{
			ProviderConfig: ProviderConfig{
				Enabled:  true,
				Priority: 0,
				BaseURL:  "https://api.deepgram.com",
				Model:    "nova-2",
				Timeout:  10 * time.Second,
			},
			Language: "en-US",
		},
		OpenAIWhisper: WhisperConfig{
			ProviderConfig: ProviderConfig{
				Enabled:  true,
				Priority: 1,
				BaseURL:  "https://api.openai.com",
				Model:    "whisper-1",
				Timeout:  15 * time.Second,
			},
			Language: "en",
		},
		ElevenLabs: ElevenLabsConfig{
			ProviderConfig: ProviderConfig{
				Enabled:  true,
				Priority: 0,
				BaseURL:  "https://api.elevenlabs.io",
				Model:    "eleven_turbo_v2_5",
				Timeout:  10 * time.Second,
			},
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
		},
		OpenAITTS: OpenAITTSConfig{
			ProviderConfig: ProviderConfig{
				Enabled:  true,
				Priority: 1,
				BaseURL:  "https://api.openai.com",
				Model:    "tts-1",
				Timeout:  15 * time.Second,
			},
			Voice: "alloy",
			Speed: 1.0,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       false,
		},
		Health: HealthConfig{
			UnhealthyAfter: 3,
			FatalCooldown:  30 * time.Second,
			HealthCheckInterval:  0,
		},
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BaseURL:          "https://api.openai.com",
		Model:            "gpt-4o-mini",
		SystemPrompt:     "You are a helpful call center agent. Keep answers short and speakable.",
		Temperature:      0.4,
		MaxTokens:        256,
		Timeout:          30 * time.Second,
		MaxContextTokens: 3000,
		MaxToolRounds:    3,
		Tools: []string{
			"get_customer_info",
			"get_call_history",
			"create_claim",
			"search_knowledge_base",
			"get_product_info",
		},
	}
}

// DefaultPersistenceConfig 返回默认持久化配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Driver:              "memory",
		QueueSize:           1024,
		Workers:             4,
		SpoolSize:           4096,
		WriteTimeout:        5 * time.Second,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		StreamKey:           "callflow:turns",
		MaxStreamLen:        100000,
		KeyPrefix:           "callflow:",
		EventTTL:            24 * time.Hour,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "postgres",
		Host:                "localhost",
		Port:                5432,
		User:                "callflow",
		Password:            "",
		Name:                "callflow",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		AutoMigrate:         false,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "callflow",
		Collection:     "turns",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "callflow",
		SampleRate:   0.1,
	}
}
