package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"license-admission-service/internal/middleware"
	"license-admission-service/internal/usecase"
	"license-admission-service/pkg/httputil"
)

// SessionHandler はセッション受け入れのHTTPハンドラを提供する。
type SessionHandler struct {
	service *usecase.LicenseService
}

// NewSessionHandler は新しいSessionHandlerを生成する。
func NewSessionHandler(service *usecase.LicenseService) *SessionHandler {
	return &SessionHandler{service: service}
}

// CreateSessionRequest はログイン時のリクエスト形式。
type CreateSessionRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	LogID    string `json:"log_id" validate:"required,max=64"`
}

// SessionResponse はセッションのレスポンス形式。
type SessionResponse struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Username  string `json:"username"`
	LoginTime string `json:"login_time"`
}

// Create はライセンスの上限内で新しいセッションを作成する。
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "ADMIT_SESSION", "", err)
		return
	}

	session, err := h.service.AdmitSession(r.Context(), req.Username, req.LogID)
	if err != nil {
		writeError(w, r, "ADMIT_SESSION", req.Username, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "ADMIT_SESSION", session.Username, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, SessionResponse{
		ID:        session.ID,
		Token:     session.Token,
		Username:  session.Username,
		LoginTime: session.LoginTime.Format(time.RFC3339),
	})
}

// Delete はセッションを終了する。
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.service.EndSession(r.Context(), token); err != nil {
		writeError(w, r, "END_SESSION", "", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "END_SESSION", "", middleware.ResultSuccess)
	httputil.NoContent(w)
}
