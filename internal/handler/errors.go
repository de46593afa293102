package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/middleware"
	"license-admission-service/pkg/httputil"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings はドメインエラーとHTTPレスポンスの対応表。
// message が空の場合はエラー文字列をそのまま返す。
var errorMappings = []errorMapping{
	{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST", ""},
	{domain.ErrMalformedArtifact, http.StatusBadRequest, "MALFORMED_LICENSE", ""},
	{domain.ErrTamperedLicense, http.StatusUnprocessableEntity, "INVALID_LICENSE", "license is tampered or invalid"},
	{domain.ErrInvalidSignature, http.StatusUnprocessableEntity, "INVALID_SIGNATURE", "invalid license signature"},
	{domain.ErrHostMismatch, http.StatusUnprocessableEntity, "HOST_MISMATCH", "license is bound to a different host"},
	{domain.ErrNotYetValid, http.StatusUnprocessableEntity, "NOT_YET_VALID", ""},
	{domain.ErrNoHostIdentity, http.StatusInternalServerError, "NO_HOST_IDENTITY", "no usable host network identifier"},
	{domain.ErrExpired, http.StatusForbidden, "LICENSE_EXPIRED", ""},
	{domain.ErrSecretMismatch, http.StatusForbidden, "SECRET_MISMATCH", "license secret does not match"},
	{domain.ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND", "license not found"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found"},
	{domain.ErrCapacityReached, http.StatusTooManyRequests, "CAPACITY_REACHED", ""},
	{domain.ErrEmptySecret, http.StatusServiceUnavailable, "LICENSE_UNCONFIGURED", "licensing is not configured"},
	{domain.ErrPersistenceUnavailable, http.StatusServiceUnavailable, "PERSISTENCE_UNAVAILABLE", "persistence unavailable"},
}

// writeError はエラーをHTTPレスポンスに変換し、監査ログを出力する。
func writeError(w http.ResponseWriter, r *http.Request, operation, subject string, err error) {
	middleware.WriteAuditLog(r.Context(), operation, subject, middleware.ResultFailed)

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			if m.status >= http.StatusInternalServerError {
				slog.ErrorContext(r.Context(), "request failed",
					"operation", operation,
					"error", err,
				)
			}
			httputil.Error(w, m.status, m.code, msg)
			return
		}
	}

	slog.ErrorContext(r.Context(), "unexpected error",
		"operation", operation,
		"error", err,
	)
	httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// decodeJSON はリクエストボディをJSONとして読み込み、validateタグで検証する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidRequest)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", domain.ErrInvalidRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}
