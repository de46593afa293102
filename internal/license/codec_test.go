package license_test

import (
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
	"time"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/license"
	"license-admission-service/internal/license/licensetest"
)

var testSecret = []byte(licensetest.Secret)

func sampleClaims() *domain.LicenseClaims {
	return licensetest.Claims(licensetest.MAC,
		domain.NewDate(2025, time.January, 1),
		domain.NewDate(2025, time.December, 31),
		5)
}

func decodeAndDecrypt(t *testing.T, artifact string) (*domain.LicenseClaims, error) {
	t.Helper()
	env, err := license.Decode(artifact)
	if err != nil {
		return nil, err
	}
	key, err := license.DeriveKey(testSecret, env.AppID)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	return license.Decrypt(env, key)
}

func TestDecrypt_RoundTrip(t *testing.T) {
	cases := []*domain.LicenseClaims{
		sampleClaims(),
		{
			Signature:  "anything",
			MACAddress: "11:22:33:44:55:66",
			StartDate:  domain.NewDate(2024, time.February, 29),
			EndDate:    domain.NewDate(2030, time.July, 4),
			Users:      1,
			AppID:      "other-app",
		},
	}

	for _, want := range cases {
		artifact := licensetest.MustIssue(testSecret, want)
		got, err := decodeAndDecrypt(t, artifact)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
		}
	}
}

func TestDecrypt_WrongSecret(t *testing.T) {
	artifact := licensetest.MustIssue([]byte("another-secret"), sampleClaims())
	_, err := decodeAndDecrypt(t, artifact)
	if !errors.Is(err, domain.ErrTamperedLicense) {
		t.Errorf("want ErrTamperedLicense, got %v", err)
	}
}

func TestDecrypt_BitFlips(t *testing.T) {
	sealed, err := licensetest.Seal(testSecret, licensetest.AppID, sampleClaims(), []byte("aad-bytes"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	env, err := license.Decode(sealed.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	// 鍵導出は重いので一度だけ行う
	key, err := license.DeriveKey(testSecret, env.AppID)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if _, err := license.Decrypt(env, key); err != nil {
		t.Fatalf("untampered envelope failed: %v", err)
	}

	flip := func(b []byte, bit int) []byte {
		out := append([]byte(nil), b...)
		out[bit/8] ^= 1 << (bit % 8)
		return out
	}

	fields := []struct {
		name  string
		value []byte
		apply func(e *domain.Envelope, b []byte)
	}{
		// 暗号文本体と末尾の認証タグ
		{"ciphertext", env.Ciphertext, func(e *domain.Envelope, b []byte) { e.Ciphertext = b }},
		{"aad", env.AAD, func(e *domain.Envelope, b []byte) { e.AAD = b }},
		{"nonce", env.Nonce, func(e *domain.Envelope, b []byte) { e.Nonce = b }},
	}

	for _, f := range fields {
		for bit := 0; bit < len(f.value)*8; bit++ {
			tampered := *env
			f.apply(&tampered, flip(f.value, bit))
			if _, err := license.Decrypt(&tampered, key); !errors.Is(err, domain.ErrTamperedLicense) {
				t.Fatalf("%s bit %d: want ErrTamperedLicense, got %v", f.name, bit, err)
			}
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name     string
		artifact string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"not json", b64("plain text")},
		{"missing appId", b64(`{"nonce":"AAAA","aad":"AAAA","ciphertext":"AAAA"}`)},
		{"missing nonce", b64(`{"appId":"a","aad":"AAAA","ciphertext":"AAAA"}`)},
		{"missing aad", b64(`{"appId":"a","nonce":"AAAA","ciphertext":"AAAA"}`)},
		{"missing ciphertext", b64(`{"appId":"a","nonce":"AAAA","aad":"AAAA"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := license.Decode(tt.artifact)
			if !errors.Is(err, domain.ErrMalformedArtifact) {
				t.Errorf("want ErrMalformedArtifact, got %v", err)
			}
		})
	}
}

func TestDecode_UnpaddedBase64(t *testing.T) {
	artifact := licensetest.MustIssue(testSecret, sampleClaims())
	raw, _ := base64.StdEncoding.DecodeString(artifact)

	if _, err := license.Decode(base64.RawStdEncoding.EncodeToString(raw)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecrypt_ShortCiphertext(t *testing.T) {
	env := &domain.Envelope{
		AppID:      licensetest.AppID,
		Nonce:      make([]byte, 12),
		AAD:        []byte{},
		Ciphertext: make([]byte, license.TagSize-1),
	}
	key, _ := license.DeriveKey(testSecret, env.AppID)

	_, err := license.Decrypt(env, key)
	if !errors.Is(err, domain.ErrMalformedArtifact) {
		t.Errorf("want ErrMalformedArtifact, got %v", err)
	}
}

func TestDecrypt_InvalidKeySize(t *testing.T) {
	env := &domain.Envelope{
		AppID:      licensetest.AppID,
		Nonce:      make([]byte, 12),
		AAD:        []byte{},
		Ciphertext: make([]byte, license.TagSize+8),
	}

	_, err := license.Decrypt(env, []byte("short-key"))
	if !errors.Is(err, domain.ErrMalformedArtifact) {
		t.Errorf("want ErrMalformedArtifact, got %v", err)
	}
}

func TestDecrypt_MalformedClaims(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"not json", `not json`},
		{"missing users", `{"signature":"s","macAddress":"m","startDate":"2025-01-01","endDate":"2025-12-31","appId":"calldesk-test"}`},
		{"missing endDate", `{"signature":"s","macAddress":"m","startDate":"2025-01-01","users":5,"appId":"calldesk-test"}`},
		{"extra field", `{"signature":"s","macAddress":"m","startDate":"2025-01-01","endDate":"2025-12-31","users":5,"appId":"calldesk-test","admin":true}`},
		{"bad date", `{"signature":"s","macAddress":"m","startDate":"01/01/2025","endDate":"2025-12-31","users":5,"appId":"calldesk-test"}`},
		{"zero users", `{"signature":"s","macAddress":"m","startDate":"2025-01-01","endDate":"2025-12-31","users":0,"appId":"calldesk-test"}`},
		{"inverted window", `{"signature":"s","macAddress":"m","startDate":"2025-12-31","endDate":"2025-01-01","users":5,"appId":"calldesk-test"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := licensetest.SealBytes(testSecret, licensetest.AppID, []byte(tt.plaintext), []byte("aad"))
			if err != nil {
				t.Fatalf("SealBytes failed: %v", err)
			}
			_, err = decodeAndDecrypt(t, env.Encode())
			if !errors.Is(err, domain.ErrMalformedArtifact) {
				t.Errorf("want ErrMalformedArtifact, got %v", err)
			}
		})
	}
}
