package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"license-admission-service/internal/domain"
)

// ActiveSessionModel はgorm用のモデル定義。
type ActiveSessionModel struct {
	ID         string     `gorm:"type:char(36);primaryKey"`
	Username   string     `gorm:"type:varchar(128);not null"`
	LogID      string     `gorm:"type:varchar(64);not null"`
	LoginTime  time.Time  `gorm:"type:datetime(6);not null"`
	LogoutTime *time.Time `gorm:"type:datetime(6)"`
	IsActive   bool       `gorm:"not null;default:true;index:idx_active_sessions_active"`
	Token      string     `gorm:"type:char(36);not null;uniqueIndex:uk_active_sessions_token"`
}

// TableName はテーブル名を返す。
func (ActiveSessionModel) TableName() string {
	return "active_sessions"
}

// BeforeCreate はレコード作成前にIDとトークンを生成する。
func (m *ActiveSessionModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Token == "" {
		m.Token = uuid.New().String()
	}
	return nil
}

// SessionRepository はセッションレコードへのアクセスを提供する。
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository は新しいSessionRepositoryを生成する。
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CountActive はアクティブなセッション数を返す。
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ActiveSessionModel{}).
		Where("is_active = ?", true).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count active sessions",
			"operation", "count_active",
			"error", err,
		)
		return 0, err
	}
	return count, nil
}

// Reserve はアクティブセッション数を数え、admitが真を返した場合のみセッションを作成する。
// 数え上げと作成は同一トランザクション内で行い、数え上げはロック付きで読む。
//
// 複数プロセス間で上限を守れるのは、InnoDBのREPEATABLE READ（既定値）で
// FOR UPDATE がギャップロックを取る場合に限る。READ COMMITTED では同時に
// 数え上げた二つのトランザクションがともに挿入できるため、その構成では
// サーバーを単一プロセスで動かすこと。
func (r *SessionRepository) Reserve(ctx context.Context, s *domain.ActiveSession, admit func(activeCount int64) bool) (bool, error) {
	model := &ActiveSessionModel{
		ID:        s.ID,
		Username:  s.Username,
		LogID:     s.LogID,
		LoginTime: s.LoginTime,
		IsActive:  true,
		Token:     s.Token,
	}

	admitted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ActiveSessionModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("is_active = ?", true).
			Count(&count).Error; err != nil {
			return err
		}
		if !admit(count) {
			return nil
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		admitted = true
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to reserve session",
			"operation", "reserve",
			"username", s.Username,
			"error", err,
		)
		return false, err
	}

	if admitted {
		s.ID = model.ID
		s.Token = model.Token
		s.IsActive = true
	}
	return admitted, nil
}

// End は指定したトークンのセッションを終了する。
func (r *SessionRepository) End(ctx context.Context, token string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ActiveSessionModel{}).
		Where("token = ? AND is_active = ?", token, true).
		Updates(map[string]any{
			"is_active":   false,
			"logout_time": at,
		})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to end session",
			"operation", "end",
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
