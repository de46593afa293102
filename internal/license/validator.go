package license

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"license-admission-service/internal/domain"
)

const (
	// IssuerSignature は正規の発行者を示す署名定数。
	IssuerSignature = "CALLDESK-LICENSE-ISSUER-V1"

	// ExpiryWarningDays は期限切れ間近と判定する残り日数。
	ExpiryWarningDays = 6
)

// HostIdentity はホストのハードウェアネットワーク識別子を提供する。
type HostIdentity interface {
	MACAddresses() (map[string]struct{}, error)
}

// Result は検証結果を表す。
type Result struct {
	Claims       *domain.LicenseClaims
	ExpiringSoon bool
	DaysLeft     int
}

// Validator はライセンスアーティファクトを検証する。
// 状態を持たず、入力に対する判定のみを行う。
type Validator struct {
	secret []byte
	host   HostIdentity
}

// NewValidator は新しいValidatorを生成する。
func NewValidator(secret []byte, host HostIdentity) *Validator {
	return &Validator{secret: secret, host: host}
}

// NormalizeMAC はMACアドレスを大文字のコロン区切りに正規化する。
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

// Validate はアーティファクトを復号・署名・ホスト・有効期間の順に検証する。
// 期限切れの場合のみ、クレームを含むResultとErrExpiredの両方を返す。
func (v *Validator) Validate(artifact string, now time.Time) (*Result, error) {
	env, err := Decode(artifact)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(v.secret, env.AppID)
	if err != nil {
		return nil, err
	}
	claims, err := Decrypt(env, key)
	if err != nil {
		return nil, err
	}
	if claims.AppID != env.AppID {
		return nil, malformed("claims appId does not match envelope")
	}

	if subtle.ConstantTimeCompare([]byte(claims.Signature), []byte(IssuerSignature)) != 1 {
		return nil, domain.ErrInvalidSignature
	}

	macs, err := v.host.MACAddresses()
	if err != nil {
		return nil, err
	}
	if len(macs) == 0 {
		return nil, domain.ErrNoHostIdentity
	}
	if _, ok := macs[NormalizeMAC(claims.MACAddress)]; !ok {
		return nil, domain.ErrHostMismatch
	}

	return checkWindow(claims, now)
}

func checkWindow(claims *domain.LicenseClaims, now time.Time) (*Result, error) {
	today := domain.DateOf(now)
	if today.Before(claims.StartDate.Time) {
		return nil, fmt.Errorf("%w: valid from %s", domain.ErrNotYetValid, claims.StartDate)
	}

	result := &Result{
		Claims:   claims,
		DaysLeft: today.DaysUntil(claims.EndDate),
	}
	if today.After(claims.EndDate.Time) {
		return result, fmt.Errorf("%w: expired on %s", domain.ErrExpired, claims.EndDate)
	}
	result.ExpiringSoon = result.DaysLeft <= ExpiryWarningDays
	return result, nil
}
