// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 受付画面に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, credential, membership, system
	Action   string // 受付スタッフ向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrorKind はアクセス制御コアが返す失敗の種別。
type ErrorKind string

// 定義済みエラー種別
const (
	KindUnauthenticated            ErrorKind = "UNAUTHENTICATED"
	KindIdentityNotFound           ErrorKind = "IDENTITY_NOT_FOUND"
	KindIdentityInactive           ErrorKind = "IDENTITY_INACTIVE"
	KindIdentityProvisioningFailed ErrorKind = "IDENTITY_PROVISIONING_FAILED"
	KindMalformedCredential        ErrorKind = "MALFORMED_CREDENTIAL"
	KindInvalidSignature           ErrorKind = "INVALID_SIGNATURE"
	KindCredentialExpired          ErrorKind = "CREDENTIAL_EXPIRED"
	KindCredentialReplayed         ErrorKind = "CREDENTIAL_REPLAYED"
	KindMembershipInactive         ErrorKind = "MEMBERSHIP_INACTIVE"
	KindUpstreamTimeout            ErrorKind = "UPSTREAM_TIMEOUT"
)

// AccessError は種別と理由を持つ終端エラー。
// errors.Is で同じ種別のセンチネルと比較できる。
type AccessError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap は原因エラーを返す。
func (e *AccessError) Unwrap() error {
	return e.Err
}

// Is は種別が一致すればtrueを返す。
func (e *AccessError) Is(target error) bool {
	t, ok := target.(*AccessError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 種別比較用のセンチネル
var (
	ErrUnauthenticated            = &AccessError{Kind: KindUnauthenticated}
	ErrIdentityNotFound           = &AccessError{Kind: KindIdentityNotFound}
	ErrIdentityInactive           = &AccessError{Kind: KindIdentityInactive}
	ErrIdentityProvisioningFailed = &AccessError{Kind: KindIdentityProvisioningFailed}
	ErrMalformedCredential        = &AccessError{Kind: KindMalformedCredential}
	ErrInvalidSignature           = &AccessError{Kind: KindInvalidSignature}
	ErrCredentialExpired          = &AccessError{Kind: KindCredentialExpired}
	ErrCredentialReplayed         = &AccessError{Kind: KindCredentialReplayed}
	ErrMembershipInactive         = &AccessError{Kind: KindMembershipInactive}
	ErrUpstreamTimeout            = &AccessError{Kind: KindUpstreamTimeout}
)

// NewAccessError はAccessErrorを生成する。
func NewAccessError(kind ErrorKind, reason string, err error) *AccessError {
	return &AccessError{Kind: kind, Reason: reason, Err: err}
}

// KindOf はエラーチェーンからErrorKindを取り出す。
// AccessErrorを含まない場合は空文字列とfalseを返す。
func KindOf(err error) (ErrorKind, bool) {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// 受付スタッフ向けの対処方法。
// 期限切れ・使用済み・会員資格停止の3種は異なる対応が必要なため区別する。
const (
	ActionRefreshCredential = "会員にアプリでQRコードを更新してもらってください。"
	ActionDuplicateScan     = "既に使用済みのQRコードです。二重読み取りの可能性があります。"
	ActionRouteToBilling    = "会員資格が有効ではありません。会計窓口へご案内ください。"
	ActionContactStaff      = "入館できません。スタッフにお問い合わせください。"
)

// FrontDeskAction は種別に応じた受付での対処方法を返す。
func FrontDeskAction(kind ErrorKind) string {
	switch kind {
	case KindCredentialExpired:
		return ActionRefreshCredential
	case KindCredentialReplayed:
		return ActionDuplicateScan
	case KindMembershipInactive:
		return ActionRouteToBilling
	default:
		return ActionContactStaff
	}
}

// ToAPIError はAccessErrorをレスポンス用のAPIErrorに変換する。
// Messageには理由のみを含め、原因エラーの詳細は含めない。
func (e *AccessError) ToAPIError() *APIError {
	return &APIError{
		Code:     string(e.Kind),
		Message:  messageFor(e.Kind),
		Category: categoryFor(e.Kind),
		Action:   FrontDeskAction(e.Kind),
	}
}

func messageFor(kind ErrorKind) string {
	switch kind {
	case KindUnauthenticated:
		return "認証に失敗しました。"
	case KindIdentityNotFound:
		return "ユーザーが見つかりません。"
	case KindIdentityInactive:
		return "このアカウントは無効化されています。"
	case KindIdentityProvisioningFailed:
		return "ユーザー登録に失敗しました。"
	case KindMalformedCredential:
		return "QRコードの形式が不正です。"
	case KindInvalidSignature:
		return "QRコードの署名が不正です。"
	case KindCredentialExpired:
		return "QRコードの有効期限が切れています。"
	case KindCredentialReplayed:
		return "QRコードは既に使用されています。"
	case KindMembershipInactive:
		return "会員資格が有効ではありません。"
	case KindUpstreamTimeout:
		return "外部サービスの応答がタイムアウトしました。"
	default:
		return "アクセスが拒否されました。"
	}
}

func categoryFor(kind ErrorKind) string {
	switch kind {
	case KindUnauthenticated, KindIdentityNotFound, KindIdentityInactive, KindIdentityProvisioningFailed:
		return "auth"
	case KindMalformedCredential, KindInvalidSignature, KindCredentialExpired, KindCredentialReplayed:
		return "credential"
	case KindMembershipInactive:
		return "membership"
	default:
		return "system"
	}
}
