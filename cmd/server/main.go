// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"license-admission-service/config"
	"license-admission-service/internal/domain"
	"license-admission-service/internal/handler"
	"license-admission-service/internal/infra"
	"license-admission-service/internal/license"
	"license-admission-service/internal/repository"
	"license-admission-service/internal/usecase"
	"license-admission-service/migrations"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(os.Stdout, cfg)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	if cfg.MigrateOnStart {
		migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), migrations.FS)
		applied, err := migrationService.ApplyMigrations(ctx)
		if err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("migrations applied", "count", applied)
	}

	// ライセンスシークレットの解決（暗号化されている場合はKMSで復号）
	var decrypter infra.Decrypter
	if cfg.LicenseSecretCiphertext != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			slog.Error("failed to init KMS client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		decrypter = kmsClient
	}
	secret, err := infra.ResolveLicenseSecret(ctx, cfg, decrypter)
	switch {
	case errors.Is(err, domain.ErrEmptySecret) && cfg.LicenseSecretCiphertext == "":
		// 未設定の場合はライセンス無しとして起動し、ログインは警告付きで許可する
		slog.Warn("license secret is not configured, starting without a license")
	case err != nil:
		slog.Error("failed to resolve license secret", "error", err)
		os.Exit(1)
	}

	// DI
	validator := license.NewValidator(secret, infra.NewNetHost())
	service := usecase.NewLicenseService(
		validator,
		license.NewState(),
		secret,
		repository.NewLicenseRepository(db),
		repository.NewSessionRepository(db),
		infra.NewArtifactFile(cfg.LicenseFilePath),
	)
	service.LoadOnStartup(ctx)

	router := handler.NewRouter(
		handler.NewLicenseHandler(service),
		handler.NewSessionHandler(service),
		cfg,
	)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "license_file", cfg.LicenseFilePath)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
