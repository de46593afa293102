// Package license はライセンスアーティファクトの復号・検証とセッション受け入れ判定を提供する。
package license

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"license-admission-service/internal/domain"
)

const (
	// KeySize はAES-256の鍵長。
	KeySize = 32
	// KeyIterations はPBKDF2の反復回数。
	KeyIterations = 100000
)

// DeriveKey はシークレットとappIDから復号鍵を導出する。
// appIDをソルトとしたPBKDF2-HMAC-SHA256で、同じ入力には常に同じ鍵を返す。
func DeriveKey(secret []byte, appID string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("deriving key: %w", domain.ErrEmptySecret)
	}
	return pbkdf2.Key(secret, []byte(appID), KeyIterations, KeySize, sha256.New), nil
}
