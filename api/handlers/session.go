package handlers

import (
	"net/http"

	"github.com/BaSui01/callflow/orchestrator"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📞 会话查询 Handler（只读）
// =============================================================================

// SessionReader 是会话查询所需的编排器子集
type SessionReader interface {
	Sessions() []orchestrator.SessionInfo
	Session(id string) (orchestrator.SessionInfo, error)
}

// SessionHandler 会话查询处理器
type SessionHandler struct {
	sessions SessionReader
	logger   *zap.Logger
}

// SessionList 会话列表响应
type SessionList struct {
	Sessions []orchestrator.SessionInfo `json:"sessions"`
	Total    int                        `json:"total"`
}

// NewSessionHandler 创建会话查询处理器
func NewSessionHandler(sessions SessionReader, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.With(zap.String("handler", "session")),
	}
}

// HandleList 处理 GET /api/v1/sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.sessions.Sessions()
	WriteSuccess(w, r, SessionList{Sessions: list, Total: len(list)})
}

// HandleGet 处理 GET /api/v1/sessions/{id}
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}
	info, err := h.sessions.Session(id)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, info)
}
