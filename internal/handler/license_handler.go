// Package handler はHTTPハンドラを提供する。
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/license"
	"license-admission-service/internal/middleware"
	"license-admission-service/internal/usecase"
	"license-admission-service/pkg/httputil"
)

// LicenseHandler はライセンス管理のHTTPハンドラを提供する。
type LicenseHandler struct {
	service *usecase.LicenseService
}

// NewLicenseHandler は新しいLicenseHandlerを生成する。
func NewLicenseHandler(service *usecase.LicenseService) *LicenseHandler {
	return &LicenseHandler{service: service}
}

// VerifyRequest は検証要求のリクエスト形式。
type VerifyRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// UploadRequest はアップロードのリクエスト形式。
type UploadRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	UploadedBy string `json:"uploaded_by" validate:"required,max=128"`
}

// ClaimsResponse はライセンス内容のレスポンス形式。
type ClaimsResponse struct {
	MACAddress string `json:"mac_address"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Users      int    `json:"users"`
	AppID      string `json:"app_id"`
}

// VerifyResponse は検証結果のレスポンス形式。
type VerifyResponse struct {
	Valid    bool            `json:"valid"`
	Expired  bool            `json:"expired"`
	Warning  string          `json:"warning,omitempty"`
	DaysLeft int             `json:"days_left"`
	License  *ClaimsResponse `json:"license"`
}

// LicenseMetadataResponse はライセンスレコードのレスポンス形式。
type LicenseMetadataResponse struct {
	ID         string `json:"id"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at"`
	IsActive   bool   `json:"is_active"`
	EndDate    string `json:"end_date,omitempty"`
}

// UploadResponse はアップロード結果のレスポンス形式。
type UploadResponse struct {
	LicenseMetadataResponse
	Warning string          `json:"warning,omitempty"`
	License *ClaimsResponse `json:"license"`
}

// LicenseListResponse はライセンス一覧のレスポンス形式。
type LicenseListResponse struct {
	Licenses []LicenseMetadataResponse `json:"licenses"`
}

// StatusResponse はライセンス状態のレスポンス形式。
type StatusResponse struct {
	Status         string          `json:"status"`
	Expired        bool            `json:"expired"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	ActiveSessions int64           `json:"active_sessions"`
	License        *ClaimsResponse `json:"license"`
}

func toClaimsResponse(c *domain.LicenseClaims) *ClaimsResponse {
	if c == nil {
		return nil
	}
	return &ClaimsResponse{
		MACAddress: c.MACAddress,
		StartDate:  c.StartDate.String(),
		EndDate:    c.EndDate.String(),
		Users:      c.Users,
		AppID:      c.AppID,
	}
}

func toMetadataResponse(m *domain.LicenseMetadata) LicenseMetadataResponse {
	resp := LicenseMetadataResponse{
		ID:         m.ID,
		UploadedBy: m.UploadedBy,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		IsActive:   m.IsActive,
	}
	if m.EndDate != nil {
		resp.EndDate = m.EndDate.String()
	}
	return resp
}

// Verify は有効なライセンスを再検証する。
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "VERIFY_LICENSE", "", err)
		return
	}

	result, err := h.service.Verify(r.Context(), req.Secret)
	if err != nil {
		writeError(w, r, "VERIFY_LICENSE", "", err)
		return
	}

	resp := VerifyResponse{
		Valid:    result.Valid,
		Expired:  result.Expired,
		Warning:  result.Warning,
		DaysLeft: result.DaysLeft,
		License:  toClaimsResponse(result.Claims),
	}
	if result.Expired {
		middleware.WriteAuditLog(r.Context(), "VERIFY_LICENSE", result.Claims.EndDate.String(), middleware.ResultFailed)
		httputil.JSON(w, http.StatusForbidden, resp)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_LICENSE", result.Claims.EndDate.String(), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, resp)
}

// Upload は新しいライセンスを検証して有効化する。
func (h *LicenseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "UPLOAD_LICENSE", "", err)
		return
	}

	result, err := h.service.Upload(r.Context(), req.LicenseKey, req.UploadedBy)
	if err != nil {
		writeError(w, r, "UPLOAD_LICENSE", req.UploadedBy, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "UPLOAD_LICENSE", result.License.ID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, UploadResponse{
		LicenseMetadataResponse: toMetadataResponse(result.License),
		Warning:                 result.Warning,
		License:                 toClaimsResponse(result.Claims),
	})
}

// List はライセンス一覧を取得する。
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.service.ListLicenses(r.Context())
	if err != nil {
		writeError(w, r, "LIST_LICENSES", "", err)
		return
	}

	response := LicenseListResponse{
		Licenses: make([]LicenseMetadataResponse, len(licenses)),
	}
	for i, m := range licenses {
		response.Licenses[i] = toMetadataResponse(m)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// Delete はライセンスレコードを削除する。
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wasActive, err := h.service.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, "DELETE_LICENSE", id, err)
		return
	}

	if wasActive {
		middleware.WriteAuditLog(r.Context(), "DELETE_ACTIVE_LICENSE", id, middleware.ResultSuccess)
	} else {
		middleware.WriteAuditLog(r.Context(), "DELETE_LICENSE", id, middleware.ResultSuccess)
	}
	httputil.NoContent(w)
}

// Status は現在のライセンス状態を取得する。
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap, count, err := h.service.Status(r.Context())
	if err != nil {
		writeError(w, r, "LICENSE_STATUS", "", err)
		return
	}

	resp := StatusResponse{
		Status:         string(snap.Status()),
		Expired:        snap.Status() == license.StatusExpired,
		ActiveSessions: count,
		License:        toClaimsResponse(snap.Payload),
	}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	httputil.JSON(w, http.StatusOK, resp)
}
