// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"license-admission-service/internal/domain"
)

// LicenseModel はgorm用のモデル定義。
type LicenseModel struct {
	ID         string     `gorm:"type:char(36);primaryKey"`
	LicenseKey string     `gorm:"type:text;not null"`
	UploadedBy string     `gorm:"type:varchar(128);not null"`
	IsActive   bool       `gorm:"not null;default:false;index:idx_licenses_active_created"`
	EndDate    *time.Time `gorm:"type:date"`
	CreatedAt  time.Time  `gorm:"type:datetime(6);not null;autoCreateTime;index:idx_licenses_active_created"`
}

// TableName はテーブル名を返す。
func (LicenseModel) TableName() string {
	return "licenses"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *LicenseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *LicenseModel) toDomain() *domain.LicenseRecord {
	rec := &domain.LicenseRecord{
		ID:         m.ID,
		LicenseKey: m.LicenseKey,
		UploadedBy: m.UploadedBy,
		CreatedAt:  m.CreatedAt,
		IsActive:   m.IsActive,
	}
	if m.EndDate != nil {
		d := domain.DateOf(m.EndDate.UTC())
		rec.EndDate = &d
	}
	return rec
}

// LicenseRepository はライセンスレコードへのアクセスを提供する。
type LicenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository は新しいLicenseRepositoryを生成する。
func NewLicenseRepository(db *gorm.DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

// FindActive は有効なライセンスのうち最新のものを返す。存在しない場合はnil。
func (r *LicenseRepository) FindActive(ctx context.Context) (*domain.LicenseRecord, error) {
	var model LicenseModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find active license",
			"operation", "find_active",
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Activate は既存のライセンスを全て無効化し、新しいライセンスを有効として保存する。
// 両方の操作は同一トランザクションで行う。
func (r *LicenseRepository) Activate(ctx context.Context, rec *domain.LicenseRecord) error {
	model := &LicenseModel{
		ID:         rec.ID,
		LicenseKey: rec.LicenseKey,
		UploadedBy: rec.UploadedBy,
		IsActive:   true,
	}
	if rec.EndDate != nil {
		t := rec.EndDate.Time
		model.EndDate = &t
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&LicenseModel{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to activate license",
			"operation", "activate",
			"uploaded_by", rec.UploadedBy,
			"error", err,
		)
		return err
	}

	rec.ID = model.ID
	rec.CreatedAt = model.CreatedAt
	rec.IsActive = true
	return nil
}

// UpdateEndDate は指定したライセンスキーのレコードの終了日を更新する。
func (r *LicenseRepository) UpdateEndDate(ctx context.Context, licenseKey string, endDate domain.Date) error {
	err := r.db.WithContext(ctx).
		Model(&LicenseModel{}).
		Where("license_key = ?", licenseKey).
		Update("end_date", endDate.Time).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update license end date",
			"operation", "update_end_date",
			"end_date", endDate.String(),
			"error", err,
		)
		return err
	}
	return nil
}

// Delete は指定したIDのレコードを削除し、削除前に有効だったかを返す。
func (r *LicenseRepository) Delete(ctx context.Context, id string) (bool, error) {
	var wasActive bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LicenseModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			return err
		}
		wasActive = model.IsActive
		return tx.Delete(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, domain.ErrLicenseNotFound
		}
		slog.ErrorContext(ctx, "failed to delete license",
			"operation", "delete",
			"id", id,
			"error", err,
		)
		return false, err
	}
	return wasActive, nil
}

// FindAll は全てのライセンスレコードを新しい順に返す。
func (r *LicenseRepository) FindAll(ctx context.Context) ([]*domain.LicenseRecord, error) {
	var models []LicenseModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all licenses",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.LicenseRecord, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}
