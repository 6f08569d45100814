package speech

import (
	"fmt"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/retry"
	"github.com/BaSui01/callflow/provider"
	"go.uber.org/zap"
)

// BuildPools 按配置构建 STT 与 TTS 两个池，未启用的供应商不会加入。
func BuildPools(cfg config.ProvidersConfig, logger *zap.Logger, opts ...provider.PoolOption) (stt, tts *provider.Pool, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryer := retry.NewBackoffRetryer(retry.ProviderPolicy(cfg.Retry), logger)
	poolCfg := provider.PoolConfig{
		UnhealthyAfter: cfg.Health.UnhealthyAfter,
		FatalCooldown:  cfg.Health.FatalCooldown,
	}

	stt = provider.NewPool(provider.CapabilitySTT, poolCfg, logger, opts...)
	if cfg.Deepgram.Enabled {
		if err := stt.Add(NewDeepgramSTT(cfg.Deepgram, retryer, logger), cfg.Deepgram.Priority); err != nil {
			return nil, nil, err
		}
	}
	if cfg.OpenAIWhisper.Enabled {
		if err := stt.Add(NewWhisperSTT(cfg.OpenAIWhisper, retryer, logger), cfg.OpenAIWhisper.Priority); err != nil {
			return nil, nil, err
		}
	}

	tts = provider.NewPool(provider.CapabilityTTS, poolCfg, logger, opts...)
	if cfg.ElevenLabs.Enabled {
		if err := tts.Add(NewElevenLabsTTS(cfg.ElevenLabs, retryer, logger), cfg.ElevenLabs.Priority); err != nil {
			return nil, nil, err
		}
	}
	if cfg.OpenAITTS.Enabled {
		if err := tts.Add(NewOpenAITTS(cfg.OpenAITTS, retryer, logger), cfg.OpenAITTS.Priority); err != nil {
			return nil, nil, err
		}
	}

	if stt.Len() == 0 {
		return nil, nil, fmt.Errorf("no STT provider enabled")
	}
	if tts.Len() == 0 {
		return nil, nil, fmt.Errorf("no TTS provider enabled")
	}
	return stt, tts, nil
}

// BuildRegistry 构建并注册 STT / TTS 池。
func BuildRegistry(cfg config.ProvidersConfig, logger *zap.Logger, opts ...provider.PoolOption) (*provider.Registry, error) {
	stt, tts, err := BuildPools(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	reg := provider.NewRegistry(logger)
	if err := reg.Register(stt); err != nil {
		return nil, err
	}
	if err := reg.Register(tts); err != nil {
		return nil, err
	}
	return reg, nil
}
