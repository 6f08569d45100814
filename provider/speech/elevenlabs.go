package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/retry"
	"github.com/BaSui01/callflow/internal/tlsutil"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// ElevenLabsTTS 使用 ElevenLabs 流式接口执行 TTS，直接输出 μ-law 8kHz.
type ElevenLabsTTS struct {
	cfg     config.ElevenLabsConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewElevenLabsTTS 创建 ElevenLabs TTS 适配器.
func NewElevenLabsTTS(cfg config.ElevenLabsConfig, retryer retry.Retryer, logger *zap.Logger) *ElevenLabsTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_turbo_v2_5"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsTTS{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		retryer: retryer,
		logger:  logger.With(zap.String("provider", "elevenlabs")),
	}
}

func (p *ElevenLabsTTS) Name() string                    { return "elevenlabs" }
func (p *ElevenLabsTTS) Capability() provider.Capability { return provider.CapabilityTTS }

func (p *ElevenLabsTTS) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, missingKey(p.Name())
	}
	return newTTSStream(ctx, p.Name(), p.synthesize), nil
}

type elevenLabsTTSRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (p *ElevenLabsTTS) synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	payload, _ := json.Marshal(elevenLabsTTSRequest{Text: text, ModelID: p.cfg.Model})
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=ulaw_8000",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.VoiceID)

	// 仅重试建立响应之前的失败；音频开始后不再重发
	return retry.DoWithResultTyped[io.ReadCloser](p.retryer, ctx, func() (io.ReadCloser, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, types.NewProviderError(p.Name(), types.ProviderFatal, err)
		}
		httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/basic")

		resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
		if err != nil {
			p.logger.Warn("elevenlabs request failed", zap.Error(err))
			return nil, err
		}
		return resp.Body, nil
	})
}

// HealthCheck 查询声音列表确认凭据有效。
func (p *ElevenLabsTTS) HealthCheck(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return missingKey(p.Name())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/voices", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
