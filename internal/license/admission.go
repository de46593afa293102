package license

// CanAdmit は現在のアクティブセッション数で新規セッションを受け入れられるか判定する。
// ライセンス未設定(Absent)の場合は受け入れる。呼び出し側で警告ログを出すこと。
// 期限切れの判定は呼び出し側で先に行う。
func CanAdmit(activeCount int64, snap *Snapshot) bool {
	if snap.Status() == StatusAbsent {
		return true
	}
	return activeCount < int64(snap.Payload.Users)
}
