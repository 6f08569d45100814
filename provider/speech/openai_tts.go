package speech

import (
	"bytes"
	"context"
	"encoding/json"
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

// openAIPCMRate is the sample rate of response_format=pcm.
const openAIPCMRate = 24000

// OpenAITTS implements TTS using OpenAI's speech API.
type OpenAITTS struct {
	cfg     config.OpenAITTSConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewOpenAITTS creates an OpenAI TTS adapter.
func NewOpenAITTS(cfg config.OpenAITTSConfig, retryer retry.Retryer, logger *zap.Logger) *OpenAITTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAITTS{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		retryer: retryer,
		logger:  logger.With(zap.String("provider", "openai_tts")),
	}
}

func (p *OpenAITTS) Name() string                    { return "openai_tts" }
func (p *OpenAITTS) Capability() provider.Capability { return provider.CapabilityTTS }

func (p *OpenAITTS) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, missingKey(p.Name())
	}
	return newTTSStream(ctx, p.Name(), p.synthesize), nil
}

type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (p *OpenAITTS) synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	payload, _ := json.Marshal(openAITTSRequest{
		Model:          p.cfg.Model,
		Input:          text,
		Voice:          p.cfg.Voice,
		ResponseFormat: "pcm",
		Speed:          p.cfg.Speed,
	})
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/audio/speech"

	return retry.DoWithResultTyped[io.ReadCloser](p.retryer, ctx, func() (io.ReadCloser, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, types.NewProviderError(p.Name(), types.ProviderFatal, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
		if err != nil {
			p.logger.Warn("openai tts request failed", zap.Error(err))
			return nil, err
		}
		return newPCMToMulaw(resp.Body, openAIPCMRate), nil
	})
}

// HealthCheck queries the model list.
func (p *OpenAITTS) HealthCheck(ctx context.Context) error {
	return openAIModelsCheck(ctx, p.client, p.Name(), p.cfg.BaseURL, p.cfg.APIKey)
}
