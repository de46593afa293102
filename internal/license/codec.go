package license

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"license-admission-service/internal/domain"
)

// TagSize はGCM認証タグの長さ。
const TagSize = 16

// envelopeJSON はアーティファクトのJSON表現。
type envelopeJSON struct {
	AppID      *string `json:"appId"`
	Nonce      []byte  `json:"nonce"`
	AAD        []byte  `json:"aad"`
	Ciphertext []byte  `json:"ciphertext"`
}

// claimsJSON は平文クレームのJSON表現。必須項目の欠落を検出するためポインタで受ける。
type claimsJSON struct {
	Signature  *string      `json:"signature"`
	MACAddress *string      `json:"macAddress"`
	StartDate  *domain.Date `json:"startDate"`
	EndDate    *domain.Date `json:"endDate"`
	Users      *int         `json:"users"`
	AppID      *string      `json:"appId"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedArtifact, fmt.Sprintf(format, args...))
}

// Decode はbase64テキストのアーティファクトを封筒にデコードする。
func Decode(text string) (*domain.Envelope, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, malformed("empty artifact")
	}

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		// パディング無しでも受け付ける
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
		if err != nil {
			return nil, malformed("base64 decoding failed")
		}
	}

	var env envelopeJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("envelope is not valid JSON")
	}

	switch {
	case env.AppID == nil || *env.AppID == "":
		return nil, malformed("envelope is missing appId")
	case env.Nonce == nil:
		return nil, malformed("envelope is missing nonce")
	case env.AAD == nil:
		return nil, malformed("envelope is missing aad")
	case env.Ciphertext == nil:
		return nil, malformed("envelope is missing ciphertext")
	}

	return &domain.Envelope{
		AppID:      *env.AppID,
		Nonce:      env.Nonce,
		AAD:        env.AAD,
		Ciphertext: env.Ciphertext,
	}, nil
}

// Decrypt は封筒を認証付き復号し、クレームを返す。
// クレームが信頼できるのはこの関数が成功した場合のみ。
func Decrypt(env *domain.Envelope, key []byte) (*domain.LicenseClaims, error) {
	if len(env.Ciphertext) < TagSize {
		return nil, malformed("ciphertext is shorter than the authentication tag")
	}
	if len(env.Nonce) == 0 {
		return nil, malformed("nonce is empty")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, malformed("creating cipher: %v", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(env.Nonce))
	if err != nil {
		return nil, malformed("unsupported nonce size %d", len(env.Nonce))
	}

	// Openは暗号文の末尾TagSizeバイトを認証タグとして扱う
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, env.AAD)
	if err != nil {
		return nil, domain.ErrTamperedLicense
	}

	return parseClaims(plaintext)
}

func parseClaims(plaintext []byte) (*domain.LicenseClaims, error) {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()

	var c claimsJSON
	if err := dec.Decode(&c); err != nil {
		return nil, malformed("claims are not valid: %v", err)
	}
	if dec.More() {
		return nil, malformed("trailing data after claims")
	}

	switch {
	case c.Signature == nil:
		return nil, malformed("claims are missing signature")
	case c.MACAddress == nil:
		return nil, malformed("claims are missing macAddress")
	case c.StartDate == nil:
		return nil, malformed("claims are missing startDate")
	case c.EndDate == nil:
		return nil, malformed("claims are missing endDate")
	case c.Users == nil:
		return nil, malformed("claims are missing users")
	case c.AppID == nil:
		return nil, malformed("claims are missing appId")
	}
	if *c.Users < 1 {
		return nil, malformed("users must be positive, got %d", *c.Users)
	}
	if c.EndDate.Before(c.StartDate.Time) {
		return nil, malformed("endDate %s is before startDate %s", c.EndDate, c.StartDate)
	}

	return &domain.LicenseClaims{
		Signature:  *c.Signature,
		MACAddress: *c.MACAddress,
		StartDate:  *c.StartDate,
		EndDate:    *c.EndDate,
		Users:      *c.Users,
		AppID:      *c.AppID,
	}, nil
}
