package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"license-admission-service/pkg/httputil"
)

// RateLimiter はトークンバケットによるレート制限を行う。
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter は毎秒rps件、最大burst件まで許可するRateLimiterを生成する。
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Handler はレート制限のミドルウェア。超過した要求には429を返す。
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			slog.WarnContext(r.Context(), "rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("Retry-After", "1")
			httputil.Error(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
