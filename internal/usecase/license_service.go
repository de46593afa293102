// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/license"
)

// LicenseRepository はライセンスレコードのデータアクセスのインターフェース。
type LicenseRepository interface {
	FindActive(ctx context.Context) (*domain.LicenseRecord, error)
	Activate(ctx context.Context, rec *domain.LicenseRecord) error
	UpdateEndDate(ctx context.Context, licenseKey string, endDate domain.Date) error
	Delete(ctx context.Context, id string) (bool, error)
	FindAll(ctx context.Context) ([]*domain.LicenseRecord, error)
}

// SessionRepository はセッションレコードのデータアクセスのインターフェース。
type SessionRepository interface {
	CountActive(ctx context.Context) (int64, error)
	Reserve(ctx context.Context, s *domain.ActiveSession, admit func(activeCount int64) bool) (bool, error)
	End(ctx context.Context, token string, at time.Time) error
}

// ArtifactStore はディスク上のライセンスアーティファクトのインターフェース。
type ArtifactStore interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, artifact string) error
	Clear(ctx context.Context) error
}

// VerifyResult は検証要求の結果を表す。
type VerifyResult struct {
	Valid    bool
	Expired  bool
	Warning  string
	DaysLeft int
	Claims   *domain.LicenseClaims
}

// UploadResult はアップロードの結果を表す。
type UploadResult struct {
	License *domain.LicenseMetadata
	Claims  *domain.LicenseClaims
	Warning string
}

// LicenseService はライセンス検証とセッション受け入れのビジネスロジックを提供する。
type LicenseService struct {
	validator *license.Validator
	state     *license.State
	secret    []byte
	licenses  LicenseRepository
	sessions  SessionRepository
	file      ArtifactStore
	now       func() time.Time

	uploadMu sync.Mutex
	admitMu  sync.Mutex
}

// NewLicenseService は新しいLicenseServiceを生成する。
func NewLicenseService(
	validator *license.Validator,
	state *license.State,
	secret []byte,
	licenses LicenseRepository,
	sessions SessionRepository,
	file ArtifactStore,
) *LicenseService {
	return &LicenseService{
		validator: validator,
		state:     state,
		secret:    secret,
		licenses:  licenses,
		sessions:  sessions,
		file:      file,
		now:       time.Now,
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
}

func expiryWarning(res *license.Result) string {
	if res == nil || !res.ExpiringSoon {
		return ""
	}
	return fmt.Sprintf("license expires in %d day(s) on %s", res.DaysLeft, res.Claims.EndDate)
}

// apply は検証結果に従って状態を遷移させる。
// 成功でActive、有効期間切れでExpired、それ以外の失敗では遷移しない。
func (s *LicenseService) apply(res *license.Result, err error) {
	now := s.now()
	switch {
	case err == nil:
		s.state.SetActive(res.Claims, now)
	case errors.Is(err, domain.ErrExpired) && res != nil:
		s.state.SetExpired(res.Claims, now)
	}
}

// refreshEndDate は検証で得た終了日をレコードへ反映する。
func (s *LicenseService) refreshEndDate(ctx context.Context, artifact string, res *license.Result) error {
	if res == nil {
		return nil
	}
	if err := s.licenses.UpdateEndDate(ctx, artifact, res.Claims.EndDate); err != nil {
		return unavailable(err)
	}
	return nil
}

// LoadOnStartup は起動時にライセンスを読み込み状態へ反映する。
// 失敗はログに記録するのみで、起動は継続する。
func (s *LicenseService) LoadOnStartup(ctx context.Context) {
	artifact, err := s.file.Read(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read license file, falling back to database",
			"operation", "load_on_startup",
			"error", err,
		)
	}
	artifact = strings.TrimSpace(artifact)
	source := "file"

	if artifact == "" {
		rec, err := s.licenses.FindActive(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load active license",
				"operation", "load_on_startup",
				"error", err,
			)
			return
		}
		if rec == nil {
			slog.InfoContext(ctx, "no license installed",
				"operation", "load_on_startup",
			)
			return
		}
		artifact = rec.LicenseKey
		source = "database"
	}

	res, err := s.validator.Validate(artifact, s.now())
	s.apply(res, err)
	if err != nil && !errors.Is(err, domain.ErrExpired) {
		slog.ErrorContext(ctx, "license validation failed on startup",
			"operation", "load_on_startup",
			"source", source,
			"error", err,
		)
		return
	}

	if err := s.refreshEndDate(ctx, artifact, res); err != nil {
		slog.ErrorContext(ctx, "failed to refresh license end date",
			"operation", "load_on_startup",
			"error", err,
		)
	}

	snap := s.state.Load()
	slog.InfoContext(ctx, "license loaded",
		"operation", "load_on_startup",
		"source", source,
		"status", snap.Status(),
		"end_date", res.Claims.EndDate.String(),
		"users", res.Claims.Users,
	)
	if w := expiryWarning(res); w != "" {
		slog.WarnContext(ctx, w, "operation", "load_on_startup")
	}
}

// Verify は有効なライセンスレコードを再検証する。
// 期限切れはエラーではなく結果のExpiredで返す。
func (s *LicenseService) Verify(ctx context.Context, suppliedSecret string) (*VerifyResult, error) {
	if len(s.secret) == 0 {
		return nil, domain.ErrEmptySecret
	}
	if subtle.ConstantTimeCompare([]byte(suppliedSecret), s.secret) != 1 {
		return nil, domain.ErrSecretMismatch
	}

	rec, err := s.licenses.FindActive(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	if rec == nil {
		return nil, domain.ErrLicenseNotFound
	}

	res, err := s.validator.Validate(rec.LicenseKey, s.now())
	s.apply(res, err)
	expired := errors.Is(err, domain.ErrExpired)
	if err != nil && !expired {
		return nil, err
	}
	if err := s.refreshEndDate(ctx, rec.LicenseKey, res); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Valid:    !expired,
		Expired:  expired,
		Warning:  expiryWarning(res),
		DaysLeft: res.DaysLeft,
		Claims:   res.Claims,
	}, nil
}

// Upload は新しいアーティファクトを検証し、有効なライセンスとして保存する。
// 検証に失敗した場合は状態を変更しない。
func (s *LicenseService) Upload(ctx context.Context, artifact, uploadedBy string) (*UploadResult, error) {
	artifact = strings.TrimSpace(artifact)
	if uploadedBy == "" {
		return nil, fmt.Errorf("%w: uploaded_by is required", domain.ErrInvalidRequest)
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	res, err := s.validator.Validate(artifact, s.now())
	if err != nil {
		return nil, err
	}

	end := res.Claims.EndDate
	rec := &domain.LicenseRecord{
		LicenseKey: artifact,
		UploadedBy: uploadedBy,
		EndDate:    &end,
	}
	if err := s.licenses.Activate(ctx, rec); err != nil {
		return nil, unavailable(err)
	}
	s.state.SetActive(res.Claims, s.now())

	if err := s.file.Write(ctx, artifact); err != nil {
		slog.ErrorContext(ctx, "failed to write license file",
			"operation", "upload",
			"license_id", rec.ID,
			"error", err,
		)
		return nil, unavailable(err)
	}

	return &UploadResult{
		License: rec.Metadata(),
		Claims:  res.Claims,
		Warning: expiryWarning(res),
	}, nil
}

// Delete は指定したライセンスレコードを削除する。
// 有効なレコードだった場合はファイルを消去し、状態をAbsentに戻す。
func (s *LicenseService) Delete(ctx context.Context, id string) (bool, error) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	wasActive, err := s.licenses.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrLicenseNotFound) {
			return false, err
		}
		return false, unavailable(err)
	}
	if !wasActive {
		return false, nil
	}

	s.state.Clear(s.now())
	if err := s.file.Clear(ctx); err != nil {
		return true, unavailable(err)
	}
	return true, nil
}

// RevalidateForLogin は現在のスナップショットを返す。
// Activeで終了日を過ぎていればExpiredに切り替えてから返す。
func (s *LicenseService) RevalidateForLogin(ctx context.Context) *license.Snapshot {
	before := s.state.Load()
	snap := s.state.ExpireIfPast(s.now())
	if before.Status() == license.StatusActive && snap.Status() == license.StatusExpired {
		slog.WarnContext(ctx, "license expired",
			"operation", "revalidate_for_login",
			"end_date", snap.Payload.EndDate.String(),
		)
	}
	return snap
}

// AdmitSession は同時セッション数の上限内であれば新しいセッションを作成する。
func (s *LicenseService) AdmitSession(ctx context.Context, username, logID string) (*domain.ActiveSession, error) {
	if username == "" || logID == "" {
		return nil, fmt.Errorf("%w: username and log_id are required", domain.ErrInvalidRequest)
	}

	snap := s.RevalidateForLogin(ctx)
	if snap.Status() == license.StatusExpired {
		return nil, domain.ErrExpired
	}
	if snap.Status() == license.StatusAbsent {
		slog.WarnContext(ctx, "admitting session without a license",
			"operation", "admit_session",
			"username", username,
		)
	}

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	session := &domain.ActiveSession{
		Username:  username,
		LogID:     logID,
		LoginTime: s.now().UTC(),
	}
	admitted, err := s.sessions.Reserve(ctx, session, func(activeCount int64) bool {
		return license.CanAdmit(activeCount, snap)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if !admitted {
		return nil, fmt.Errorf("%w: %d user(s) allowed", domain.ErrCapacityReached, snap.Payload.Users)
	}
	return session, nil
}

// EndSession は指定したトークンのセッションを終了する。
func (s *LicenseService) EndSession(ctx context.Context, token string) error {
	if err := s.sessions.End(ctx, token, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		return unavailable(err)
	}
	return nil
}

// ListLicenses は全てのライセンスのメタデータを新しい順に返す。
func (s *LicenseService) ListLicenses(ctx context.Context) ([]*domain.LicenseMetadata, error) {
	records, err := s.licenses.FindAll(ctx)
	if err != nil {
		return nil, unavailable(err)
	}

	metadata := make([]*domain.LicenseMetadata, len(records))
	for i, r := range records {
		metadata[i] = r.Metadata()
	}
	return metadata, nil
}

// Status は現在のライセンス状態とアクティブセッション数を返す。
func (s *LicenseService) Status(ctx context.Context) (*license.Snapshot, int64, error) {
	snap := s.RevalidateForLogin(ctx)
	count, err := s.sessions.CountActive(ctx)
	if err != nil {
		return snap, 0, unavailable(err)
	}
	return snap, count, nil
}
