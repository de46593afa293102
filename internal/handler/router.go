package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"license-admission-service/config"
	"license-admission-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(lh *LicenseHandler, sh *SessionHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	verifyLimiter := middleware.NewRateLimiter(cfg.VerifyRateLimit, cfg.VerifyRateBurst)

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.With(verifyLimiter.Handler).Post("/license/verify", lh.Verify)
		r.Get("/license/status", lh.Status)

		r.Route("/licenses", func(r chi.Router) {
			r.Post("/", lh.Upload)
			r.Get("/", lh.List)
			r.Delete("/{id}", lh.Delete)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sh.Create)
			r.Delete("/{token}", sh.Delete)
		})
	})

	return otelhttp.NewHandler(r, cfg.OtelServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
