// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	LogLevel           string
	GoogleCloudProject string

	// ライセンス検証
	LicenseSecret           string
	LicenseSecretCiphertext string // Cloud KMSで暗号化したシークレット（Base64）
	KMSKeyName              string
	LicenseFilePath         string
	MigrateOnStart          bool

	// 検証APIのレート制限（シークレットの総当たり対策）
	VerifyRateLimit float64
	VerifyRateBurst int

	// OpenTelemetry
	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:                    getEnv("PORT", "8080"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		LogLevel:                getEnv("LOG_LEVEL", "INFO"),
		GoogleCloudProject:      os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LicenseSecret:           os.Getenv("LICENSE_SECRET"),
		LicenseSecretCiphertext: os.Getenv("LICENSE_SECRET_CIPHERTEXT"),
		KMSKeyName:              os.Getenv("KMS_KEY_NAME"),
		LicenseFilePath:         getEnv("LICENSE_FILE_PATH", "./license.key"),
		MigrateOnStart:          getBool("MIGRATE_ON_START", false),
		VerifyRateLimit:         getFloat("VERIFY_RATE_LIMIT", 1.0),
		VerifyRateBurst:         getInt("VERIFY_RATE_BURST", 5),
		OtelEnabled:             getBool("OTEL_ENABLED", false),
		OtelEndpoint:            getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:            getBool("OTEL_INSECURE", false),
		OtelServiceName:         getEnv("OTEL_SERVICE_NAME", "license-admission-service"),
		OtelSamplingRate:        getFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return n
}
