// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はジム内での権限ロールを表す。閉じた集合として扱う。
type Role string

const (
	// RoleOwner はジムのオーナー。
	RoleOwner Role = "owner"
	// RoleManager は店舗マネージャー。
	RoleManager Role = "manager"
	// RoleReception は受付スタッフ。
	RoleReception Role = "reception"
	// RoleClient は一般会員。最も権限の低いロール。
	RoleClient Role = "client"
)

// ParseRole は外部から渡されたロール文字列をRoleに変換する。
// 未知の値や空文字列の場合は最小権限のRoleClientを返す。
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner
	case RoleManager:
		return RoleManager
	case RoleReception:
		return RoleReception
	default:
		return RoleClient
	}
}

// IsStaff はスタッフ系ロール（owner, manager, reception）かどうかを返す。
func (r Role) IsStaff() bool {
	return r == RoleOwner || r == RoleManager || r == RoleReception
}

// IdentityClaim は検証済みトークンから抽出したクレームを表す。
// 永続化はしない。トークンの生ペイロードは境界でこの型に詰め替える。
type IdentityClaim struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// プロフィールのヒント（任意）
	DisplayName   string
	Email         string
	RoleHint      string
	EmailVerified bool
}

// LocalIdentity はローカルに保持するユーザーを表す。
// 主キーは外部IdPのsubject IDであり、再生成しない。
type LocalIdentity struct {
	SubjectID     string
	DisplayName   string
	Email         string
	Role          Role
	Active        bool
	EmailVerified bool
	CreatedAt     time.Time
}

// Profile はIdPから取得したsubjectのプロフィールを表す。
type Profile struct {
	SubjectID     string
	DisplayName   string
	Email         string
	EmailVerified bool
	Role          string // app_metadata上のロール（任意）
}
