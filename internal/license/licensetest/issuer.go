// Package licensetest はテスト用のライセンスアーティファクト発行を提供する。
// 本番コードからは参照しない。
package licensetest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/license"
)

const (
	// Secret はテスト用のシークレット。
	Secret = "test-license-secret"
	// AppID はテスト用のappID。
	AppID = "calldesk-test"
	// MAC はテスト用のホストMACアドレス。
	MAC = "AA:BB:CC:DD:EE:FF"
)

// Claims はテスト用のクレームを生成する。
func Claims(mac string, start, end domain.Date, users int) *domain.LicenseClaims {
	return &domain.LicenseClaims{
		Signature:  license.IssuerSignature,
		MACAddress: mac,
		StartDate:  start,
		EndDate:    end,
		Users:      users,
		AppID:      AppID,
	}
}

// Envelope はアーティファクトの封筒（JSON表現）。
type Envelope struct {
	AppID      string `json:"appId"`
	Nonce      []byte `json:"nonce"`
	AAD        []byte `json:"aad"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal は任意のペイロードをJSON化して暗号化し、封筒を返す。
func Seal(secret []byte, appID string, payload any, aad []byte) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return SealBytes(secret, appID, plaintext, aad)
}

// SealBytes は平文バイト列を暗号化し、封筒を返す。
func SealBytes(secret []byte, appID string, plaintext, aad []byte) (*Envelope, error) {
	key, err := license.DeriveKey(secret, appID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		AppID:      appID,
		Nonce:      nonce,
		AAD:        aad,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, aad),
	}, nil
}

// Encode は封筒をbase64テキストのアーティファクトにする。
func (e *Envelope) Encode() string {
	raw, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Issue はクレームからアーティファクトを発行する。
func Issue(secret []byte, claims *domain.LicenseClaims) (string, error) {
	env, err := Seal(secret, claims.AppID, claims, []byte("calldesk-license"))
	if err != nil {
		return "", err
	}
	return env.Encode(), nil
}

// MustIssue はIssueの失敗時にパニックする。
func MustIssue(secret []byte, claims *domain.LicenseClaims) string {
	artifact, err := Issue(secret, claims)
	if err != nil {
		panic(err)
	}
	return artifact
}

// Host は固定のMACアドレス集合を返すHostIdentity。
type Host struct {
	MACs []string
	Err  error
}

// MACAddresses はMACアドレス集合を返す。
func (h *Host) MACAddresses() (map[string]struct{}, error) {
	if h.Err != nil {
		return nil, h.Err
	}
	set := make(map[string]struct{}, len(h.MACs))
	for _, m := range h.MACs {
		set[license.NormalizeMAC(m)] = struct{}{}
	}
	return set, nil
}
