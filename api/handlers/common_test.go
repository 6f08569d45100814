package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/callflow/internal/ctxkeys"
	"github.com/BaSui01/callflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"key":"value"}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]int{"sessions": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{"invalid request", types.NewError(types.ErrInvalidRequest, "bad frame"), http.StatusBadRequest},
		{"session not found", types.NewSessionNotFound("s1"), http.StatusNotFound},
		{"session ended", types.NewError(types.ErrSessionEnded, "ended"), http.StatusGone},
		{"no provider", types.NewNoProviderAvailable("stt"), http.StatusServiceUnavailable},
		{"agent timeout", types.NewError(types.ErrAgentTimeout, "deadline"), http.StatusGatewayTimeout},
		{"explicit status", types.NewError(types.ErrInternalError, "x").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot},
		{"internal", types.NewError(types.ErrInternalError, "db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, nil, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteErrorFrom(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorFrom(w, nil, errors.New("boom"), zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")

	w = httptest.NewRecorder()
	wrapped := errors.Join(errors.New("ctx"), types.NewSessionNotFound("s9"))
	WriteErrorFrom(w, nil, wrapped, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, nil, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", zap.NewNop())
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "method not allowed")
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError) // 第二次忽略
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 5, rw.Bytes)
	assert.Same(t, rec, rw.Unwrap())
	rw.Flush()
	assert.True(t, rec.Flushed)
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _, err := rw.Hijack()
	assert.Error(t, err)
	assert.False(t, rw.Hijacked)
}
