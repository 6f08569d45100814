package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/callflow/types"
)

const maxErrorBody = 4 << 10

// statusError 把非 2xx 响应映射为供应商错误。
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	kind := types.ClassifyHTTPStatus(resp.StatusCode)
	return types.NewProviderError(provider, kind,
		fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
}

// requestError classifies a transport failure. Cancellation is passed
// through untouched so that it is not charged to the provider.
func requestError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return types.NewProviderError(provider, types.ProviderTransient, err)
}

func decodeError(provider string, err error) error {
	return types.NewProviderError(provider, types.ProviderTransient,
		fmt.Errorf("decode response: %w", err))
}

func missingKey(provider string) error {
	return types.NewProviderError(provider, types.ProviderFatal, errors.New("api key is not configured"))
}

func doRequest(ctx context.Context, client *http.Client, provider string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, requestError(ctx, provider, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(provider, resp)
	}
	return resp, nil
}
