package license

import (
	"sync/atomic"
	"time"

	"license-admission-service/internal/domain"
)

// Status はライセンス状態の種別を表す。
type Status string

const (
	// StatusAbsent は一度も検証に成功していない状態。
	StatusAbsent Status = "absent"
	// StatusActive は検証に成功し有効期間内の状態。
	StatusActive Status = "active"
	// StatusExpired は有効期間を過ぎた状態。クレームは保持する。
	StatusExpired Status = "expired"
)

// Snapshot はライセンス状態の不変スナップショット。
type Snapshot struct {
	Payload   *domain.LicenseClaims
	IsExpired bool
	UpdatedAt time.Time
}

// Status はスナップショットの状態種別を返す。
func (s *Snapshot) Status() Status {
	switch {
	case s == nil || s.Payload == nil:
		return StatusAbsent
	case s.IsExpired:
		return StatusExpired
	default:
		return StatusActive
	}
}

// State はプロセス全体のライセンス状態を保持する。
// 更新はスナップショットの差し替えのみで行い、読み手は常に一貫した組を観測する。
type State struct {
	current atomic.Pointer[Snapshot]
}

// NewState はAbsent状態のStateを生成する。
func NewState() *State {
	s := &State{}
	s.current.Store(&Snapshot{})
	return s
}

// Load は現在のスナップショットを返す。
func (s *State) Load() *Snapshot {
	return s.current.Load()
}

// SetActive は検証に成功したクレームでActive状態にする。
func (s *State) SetActive(claims *domain.LicenseClaims, now time.Time) {
	s.current.Store(&Snapshot{Payload: claims, UpdatedAt: now})
}

// SetExpired は期限切れのクレームでExpired状態にする。
func (s *State) SetExpired(claims *domain.LicenseClaims, now time.Time) {
	s.current.Store(&Snapshot{Payload: claims, IsExpired: true, UpdatedAt: now})
}

// Clear はAbsent状態に戻す。
func (s *State) Clear(now time.Time) {
	s.current.Store(&Snapshot{UpdatedAt: now})
}

// ExpireIfPast はActive状態で終了日を過ぎていればExpiredに切り替える。
// 並行する更新を上書きしないよう比較交換で差し替える。
func (s *State) ExpireIfPast(now time.Time) *Snapshot {
	for {
		cur := s.current.Load()
		if cur.Status() != StatusActive || !domain.DateOf(now).After(cur.Payload.EndDate.Time) {
			return cur
		}
		next := &Snapshot{Payload: cur.Payload, IsExpired: true, UpdatedAt: now}
		if s.current.CompareAndSwap(cur, next) {
			return next
		}
	}
}
