package infra

import (
	"context"
	"encoding/base64"
	"fmt"

	"license-admission-service/config"
	"license-admission-service/internal/domain"
)

// Decrypter は暗号文を復号する。
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// ResolveLicenseSecret はライセンス鍵導出用のシークレットを解決する。
// LICENSE_SECRET_CIPHERTEXT が設定されていればKMSで復号した値を、
// そうでなければ LICENSE_SECRET をそのまま使う。
func ResolveLicenseSecret(ctx context.Context, cfg *config.Config, d Decrypter) ([]byte, error) {
	if cfg.LicenseSecretCiphertext == "" {
		if cfg.LicenseSecret == "" {
			return nil, domain.ErrEmptySecret
		}
		return []byte(cfg.LicenseSecret), nil
	}

	if d == nil {
		return nil, fmt.Errorf("LICENSE_SECRET_CIPHERTEXT is set but no KMS client is configured")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(cfg.LicenseSecretCiphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding LICENSE_SECRET_CIPHERTEXT: %w", err)
	}
	secret, err := d.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting license secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, domain.ErrEmptySecret
	}
	return secret, nil
}
