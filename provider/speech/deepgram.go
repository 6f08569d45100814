package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/retry"
	"github.com/BaSui01/callflow/internal/tlsutil"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// DeepgramSTT 使用 Deepgram 预录音频接口执行 STT。
type DeepgramSTT struct {
	cfg     config.DeepgramConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewDeepgramSTT 创建 Deepgram STT 适配器.
func NewDeepgramSTT(cfg config.DeepgramConfig, retryer retry.Retryer, logger *zap.Logger) *DeepgramSTT {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
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
	return &DeepgramSTT{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		retryer: retryer,
		logger:  logger.With(zap.String("provider", "deepgram")),
	}
}

func (p *DeepgramSTT) Name() string                    { return "deepgram" }
func (p *DeepgramSTT) Capability() provider.Capability { return provider.CapabilitySTT }

func (p *DeepgramSTT) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, missingKey(p.Name())
	}
	return newSTTStream(ctx, p.transcribe), nil
}

type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (p *DeepgramSTT) transcribe(ctx context.Context, audio []byte, encoding types.AudioEncoding, sampleRate int) (types.TranscriptDelta, error) {
	params := url.Values{}
	params.Set("model", p.cfg.Model)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	params.Set("sample_rate", strconv.Itoa(sampleRate))
	params.Set("channels", "1")
	if encoding == types.EncodingPCM16 {
		params.Set("encoding", "linear16")
	} else {
		params.Set("encoding", "mulaw")
	}
	if p.cfg.Language != "" {
		params.Set("language", p.cfg.Language)
	}
	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())

	return retry.DoWithResultTyped[types.TranscriptDelta](p.retryer, ctx, func() (types.TranscriptDelta, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return types.TranscriptDelta{}, types.NewProviderError(p.Name(), types.ProviderFatal, err)
		}
		httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/octet-stream")

		resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
		if err != nil {
			p.logger.Warn("deepgram request failed", zap.Error(err))
			return types.TranscriptDelta{}, err
		}
		defer resp.Body.Close()

		var dResp deepgramResponse
		if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
			return types.TranscriptDelta{}, decodeError(p.Name(), err)
		}
		delta := types.TranscriptDelta{Final: true}
		// 只取第一个声道的首选结果
		if len(dResp.Results.Channels) > 0 && len(dResp.Results.Channels[0].Alternatives) > 0 {
			alt := dResp.Results.Channels[0].Alternatives[0]
			delta.Text = alt.Transcript
			delta.Confidence = alt.Confidence
		}
		return delta, nil
	})
}

// HealthCheck 探测 Deepgram 项目接口。
func (p *DeepgramSTT) HealthCheck(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return missingKey(p.Name())
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/projects"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	resp, err := doRequest(ctx, p.client, p.Name(), httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
