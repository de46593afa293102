package repository

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1接続に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	// SQLite用のスキーマ（本番はmigrations/のMySQL用SQL）
	sql := `
		CREATE TABLE licenses (
			id TEXT PRIMARY KEY,
			license_key TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			end_date DATE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_licenses_active_created ON licenses(is_active, created_at);
		CREATE TABLE active_sessions (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			log_id TEXT NOT NULL,
			login_time DATETIME NOT NULL,
			logout_time DATETIME,
			is_active INTEGER NOT NULL DEFAULT 1,
			token TEXT NOT NULL UNIQUE
		);
		CREATE INDEX idx_active_sessions_active ON active_sessions(is_active);
	`
	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}

	return db
}
