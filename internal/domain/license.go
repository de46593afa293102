// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout はライセンスの日付フォーマット。
const DateLayout = "2006-01-02"

// Date は時刻を持たない暦日を表す（UTCの0時で保持する）。
type Date struct {
	time.Time
}

// NewDate は年月日からDateを生成する。
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf は時刻tの暦日を返す。
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate は "YYYY-MM-DD" 形式の文字列をパースする。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// String は "YYYY-MM-DD" 形式の文字列を返す。
func (d Date) String() string {
	return d.Format(DateLayout)
}

// DaysUntil はdからuまでの日数を返す。
func (d Date) DaysUntil(u Date) int {
	return int(u.Sub(d.Time).Hours() / 24)
}

// MarshalJSON は "YYYY-MM-DD" 形式で出力する。
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON は "YYYY-MM-DD" 形式の文字列を読み込む。
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Envelope はライセンスアーティファクトの封筒を表す。
type Envelope struct {
	AppID      string
	Nonce      []byte
	AAD        []byte
	Ciphertext []byte // 暗号文 + 16バイトの認証タグ
}

// LicenseClaims は復号・検証済みのライセンス内容を表す。
type LicenseClaims struct {
	Signature  string `json:"signature"`
	MACAddress string `json:"macAddress"`
	StartDate  Date   `json:"startDate"`
	EndDate    Date   `json:"endDate"`
	Users      int    `json:"users"`
	AppID      string `json:"appId"`
}

// LicenseRecord は永続化されたライセンスレコードを表す。
type LicenseRecord struct {
	ID         string
	LicenseKey string
	UploadedBy string
	CreatedAt  time.Time
	IsActive   bool
	EndDate    *Date
}

// LicenseMetadata はライセンスレコードのメタデータを表す（鍵本体を含まない）。
type LicenseMetadata struct {
	ID         string
	UploadedBy string
	CreatedAt  time.Time
	IsActive   bool
	EndDate    *Date
}

// Metadata はレコードから鍵本体を除いたメタデータを返す。
func (r *LicenseRecord) Metadata() *LicenseMetadata {
	return &LicenseMetadata{
		ID:         r.ID,
		UploadedBy: r.UploadedBy,
		CreatedAt:  r.CreatedAt,
		IsActive:   r.IsActive,
		EndDate:    r.EndDate,
	}
}
