package domain

import "errors"

// ライセンス検証のエラー分類。
var (
	// ErrMalformedArtifact はライセンスの封筒または平文の構造が不正な場合のエラー。
	ErrMalformedArtifact = errors.New("malformed license artifact")

	// ErrTamperedLicense は認証タグの検証に失敗した場合のエラー。
	// 詳細（鍵・暗号文・AADのどれが不一致か）は返さない。
	ErrTamperedLicense = errors.New("license is tampered or invalid")

	// ErrInvalidSignature は発行者署名が一致しない場合のエラー。
	ErrInvalidSignature = errors.New("invalid license signature")

	// ErrHostMismatch はライセンスのMACアドレスがホストに存在しない場合のエラー。
	ErrHostMismatch = errors.New("license is bound to a different host")

	// ErrNoHostIdentity はホストに利用可能なMACアドレスが無い場合のエラー。
	ErrNoHostIdentity = errors.New("no usable host network identifier")

	// ErrNotYetValid は有効期間の開始前の場合のエラー。
	ErrNotYetValid = errors.New("license is not yet valid")

	// ErrExpired は有効期間を過ぎている場合のエラー。
	ErrExpired = errors.New("license has expired")

	// ErrPersistenceUnavailable は永続化層の呼び出しに失敗した場合のエラー。
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

var (
	// ErrEmptySecret は鍵導出用のシークレットが未設定の場合のエラー。
	ErrEmptySecret = errors.New("license secret is empty")

	// ErrSecretMismatch は検証要求のシークレットが設定値と一致しない場合のエラー。
	ErrSecretMismatch = errors.New("license secret does not match")

	// ErrLicenseNotFound は対象のライセンスレコードが存在しない場合のエラー。
	ErrLicenseNotFound = errors.New("license not found")

	// ErrCapacityReached は同時セッション数が上限に達している場合のエラー。
	ErrCapacityReached = errors.New("active session limit reached")

	// ErrSessionNotFound は対象のセッションが存在しないか既に終了している場合のエラー。
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRequest は入力値が不正な場合のエラー。
	ErrInvalidRequest = errors.New("invalid request")
)

var (
	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
