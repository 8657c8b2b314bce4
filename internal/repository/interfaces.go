// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

// ErrDuplicate は一意制約違反により挿入されなかったことを示す。
var ErrDuplicate = errors.New("duplicate key")

// IdentityRepository はローカルユーザーの永続化インターフェース。
type IdentityRepository interface {
	// FindBySubject は指定subjectのユーザーを取得する。見つからない場合はnilを返す。
	FindBySubject(ctx context.Context, subjectID string) (*model.LocalIdentity, error)

	// CreateIfAbsent はsubject IDを主キーとしてユーザーを作成する。
	// 既に同じsubject IDの行が存在する場合は何もせずcreated=falseを返す。
	// 一意制約による判定はストレージ側で原子的に行う。
	CreateIfAbsent(ctx context.Context, identity *model.LocalIdentity) (created bool, err error)
}

// CheckInRepository はチェックイン台帳の永続化インターフェース。
// 追記専用であり、更新・削除は提供しない。
type CheckInRepository interface {
	// InsertIfAbsent はチェックイン記録を挿入する。
	// {subject_id, nonce}が既に存在する場合はErrDuplicateを返す。
	InsertIfAbsent(ctx context.Context, record *model.CheckInRecord) error

	// ListByGym はジムのチェックイン記録を[from, to)の範囲でvalidated_at降順に返す。
	// 同時刻の記録はIDの降順で並ぶ。cursorがゼロ値でない場合は(validated_at, id)がcursorより前の記録のみを返す。
	ListByGym(ctx context.Context, gymID string, from, to time.Time, cursor model.CheckInCursor, limit int) ([]*model.CheckInRecord, error)

	// CountByGym はジムのチェックイン数を[from, to)の範囲で返す。
	CountByGym(ctx context.Context, gymID string, from, to time.Time) (int, error)
}

// MembershipRepository は会員所属情報の参照インターフェース。
type MembershipRepository interface {
	// FindByGymAndSubject は指定ジム・subjectの所属情報を全て返す。
	FindByGymAndSubject(ctx context.Context, gymID, subjectID string) ([]*model.Membership, error)
}

// HealthChecker はDB疎通確認用のインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
