package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/callflow/audio"
	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/retry"
	"github.com/BaSui01/callflow/internal/tlsutil"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// WhisperSTT 使用 OpenAI Whisper 接口执行 STT.
type WhisperSTT struct {
	cfg     config.WhisperConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewWhisperSTT 创建 Whisper STT 适配器.
func NewWhisperSTT(cfg config.WhisperConfig, retryer retry.Retryer, logger *zap.Logger) *WhisperSTT {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
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
	return &WhisperSTT{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		retryer: retryer,
		logger:  logger.With(zap.String("provider", "openai_whisper")),
	}
}

func (p *WhisperSTT) Name() string                    { return "openai_whisper" }
func (p *WhisperSTT) Capability() provider.Capability { return provider.CapabilitySTT }

func (p *WhisperSTT) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, missingKey(p.Name())
	}
	return newSTTStream(ctx, p.transcribe), nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (p *WhisperSTT) transcribe(ctx context.Context, data []byte, encoding types.AudioEncoding, sampleRate int) (types.TranscriptDelta, error) {
	// Whisper 不接受裸 μ-law，解码后封装为 WAV
	wav := audio.EncodeWAV(audio.ToPCM16(data, encoding), sampleRate)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return types.TranscriptDelta{}, err
	}
	if _, err := part.Write(wav); err != nil {
		return types.TranscriptDelta{}, err
	}
	_ = writer.WriteField("model", p.cfg.Model)
	_ = writer.WriteField("response_format", "json")
	if p.cfg.Language != "" {
		_ = writer.WriteField("language", p.cfg.Language)
	}
	writer.Close()
	body := buf.Bytes()
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/audio/transcriptions"

	return retry.DoWithResultTyped[types.TranscriptDelta](p.retryer, ctx, func() (types.TranscriptDelta, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return types.TranscriptDelta{}, types.NewProviderError(p.Name(), types.ProviderFatal, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		httpReq.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
		if err != nil {
			p.logger.Warn("whisper request failed", zap.Error(err))
			return types.TranscriptDelta{}, err
		}
		defer resp.Body.Close()

		var wResp whisperResponse
		if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
			return types.TranscriptDelta{}, decodeError(p.Name(), err)
		}
		return types.TranscriptDelta{Text: strings.TrimSpace(wResp.Text), Final: true}, nil
	})
}

// HealthCheck 查询模型列表确认凭据有效。
func (p *WhisperSTT) HealthCheck(ctx context.Context) error {
	return openAIModelsCheck(ctx, p.client, p.Name(), p.cfg.BaseURL, p.cfg.APIKey)
}

func openAIModelsCheck(ctx context.Context, client *http.Client, name, baseURL, apiKey string) error {
	if apiKey == "" {
		return missingKey(name)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := doRequest(ctx, client, name, httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
