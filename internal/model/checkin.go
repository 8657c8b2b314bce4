package model

import "time"

// AccessCredential は受付で提示される入館用クレデンシャルを表す。
// 署名は{KeyID, SubjectID, IssuedAt, Nonce}をサーバー保持の秘密鍵で束縛する。
type AccessCredential struct {
	KeyID     string
	SubjectID string
	IssuedAt  time.Time
	Nonce     []byte
	Signature []byte
}

// CheckInOutcome はチェックイン記録の結果を表す。
type CheckInOutcome string

const (
	// CheckInGranted は入館許可。台帳には成功した検証のみ記録する。
	CheckInGranted CheckInOutcome = "granted"
)

// CheckInRecord はチェックイン台帳の1行を表す。イミュータブル。
// {SubjectID, Nonce}の一意性がリプレイ防止の仕組みになる。
type CheckInRecord struct {
	ID          string
	SubjectID   string
	Nonce       string // 16進表記
	GymID       string
	ValidatedAt time.Time
	Outcome     CheckInOutcome
}

// CheckInCursor はチェックイン一覧のページ位置。
// 一覧は(ValidatedAt, ID)の降順で並び、次のページはこの位置より後ろの記録から始まる。
type CheckInCursor struct {
	ValidatedAt time.Time
	ID          string
}

// IsZero は先頭ページを指すゼロ値かどうかを返す。
func (c CheckInCursor) IsZero() bool {
	return c.ValidatedAt.IsZero() && c.ID == ""
}

// CursorOf は記録の位置を指すカーソルを返す。
func CursorOf(r *CheckInRecord) CheckInCursor {
	return CheckInCursor{ValidatedAt: r.ValidatedAt, ID: r.ID}
}

// Before は(ValidatedAt, ID)の順序で記録がカーソルより前にあるかどうかを返す。
// 降順の一覧では、trueの記録がカーソルの次のページに含まれる。
func (r *CheckInRecord) Before(c CheckInCursor) bool {
	if r.ValidatedAt.Equal(c.ValidatedAt) {
		return r.ID < c.ID
	}
	return r.ValidatedAt.Before(c.ValidatedAt)
}

// MembershipKind は会員種別を表す。
type MembershipKind string

const (
	// MembershipMember は会員としての所属。
	MembershipMember MembershipKind = "member"
	// MembershipStaff はスタッフとしての所属。
	MembershipStaff MembershipKind = "staff"
)

// MembershipStatus は会員ステータスを表す。
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipInactive  MembershipStatus = "inactive"
	MembershipSuspended MembershipStatus = "suspended"
)

// Membership はジムへの所属情報を表す。
// 会員管理モジュールが所有し、このコアからは参照のみ行う。
type Membership struct {
	GymID      string
	SubjectID  string
	Kind       MembershipKind
	Status     MembershipStatus
	ValidFrom  time.Time
	ValidUntil *time.Time
}

// ValidAt は指定時刻に所属が有効かどうかを返す。
func (m *Membership) ValidAt(at time.Time) bool {
	if m == nil || m.Status != MembershipActive {
		return false
	}
	if at.Before(m.ValidFrom) {
		return false
	}
	if m.ValidUntil != nil && !at.Before(*m.ValidUntil) {
		return false
	}
	return true
}
