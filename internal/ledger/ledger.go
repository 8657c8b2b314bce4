// Package ledger はチェックイン台帳（成功した検証の追記専用記録）を提供する。
package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/upstream"
)

var (
	// ErrDuplicate は同じnonceのチェックインが既に記録済みであることを示す。
	ErrDuplicate = repository.ErrDuplicate
	// ErrInvalidCursor はページカーソルを解釈できないことを示す。
	ErrInvalidCursor = errors.New("invalid cursor")
)

const cursorSeparator = "|"

const (
	// DefaultPageSize はListByGymの既定の取得件数。
	DefaultPageSize = 50
	// MaxPageSize はListByGymの最大取得件数。
	MaxPageSize = 200
)

// Page はチェックイン一覧の1ページ。
// NextCursorがゼロ値でなければ次のページが存在する。
type Page struct {
	Records    []*model.CheckInRecord
	NextCursor model.CheckInCursor
}

// Ledger はチェックイン台帳。更新・削除は提供しない。
type Ledger struct {
	repo   repository.CheckInRepository
	policy *upstream.Policy
	newID  func() string
}

// New はLedgerを生成する。
func New(repo repository.CheckInRepository, policy *upstream.Policy) *Ledger {
	return &Ledger{
		repo:   repo,
		policy: policy,
		newID:  uuid.NewString,
	}
}

// Record は{subject, nonce}のチェックインを記録する。
// 既に記録済みの場合はErrDuplicateを返す。この挿入は再試行しない。
func (l *Ledger) Record(ctx context.Context, subjectID, nonce, gymID string, at time.Time) (*model.CheckInRecord, error) {
	record := &model.CheckInRecord{
		ID:          l.newID(),
		SubjectID:   subjectID,
		Nonce:       nonce,
		GymID:       gymID,
		ValidatedAt: at.UTC(),
		Outcome:     model.CheckInGranted,
	}

	_, err := upstream.Call(ctx, l.policy, "ledger.insert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.repo.InsertIfAbsent(ctx, record)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		if _, ok := model.KindOf(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}
	return record, nil
}

// ListByGym はジムのチェックインを[from, to)の範囲で新しい順に返す。
// cursorには前ページのNextCursorを渡す。limitが0以下の場合はDefaultPageSizeを使う。
func (l *Ledger) ListByGym(ctx context.Context, gymID string, from, to time.Time, cursor model.CheckInCursor, limit int) (*Page, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid range: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	records, err := upstream.Read(ctx, l.policy, "ledger.list", func(ctx context.Context) ([]*model.CheckInRecord, error) {
		return l.repo.ListByGym(ctx, gymID, from, to, cursor, limit+1)
	})
	if err != nil {
		if _, ok := model.KindOf(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}

	page := &Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.NextCursor = model.CursorOf(page.Records[limit-1])
	}
	return page, nil
}

// EncodeCursor はカーソルをAPIで受け渡す不透明な文字列にする。ゼロ値は空文字列になる。
func EncodeCursor(c model.CheckInCursor) string {
	if c.IsZero() {
		return ""
	}
	raw := c.ValidatedAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor はEncodeCursorの出力をカーソルに戻す。空文字列はゼロ値になる。
func ParseCursor(s string) (model.CheckInCursor, error) {
	if s == "" {
		return model.CheckInCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return model.CheckInCursor{}, ErrInvalidCursor
	}
	at, id, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return model.CheckInCursor{}, ErrInvalidCursor
	}
	validatedAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return model.CheckInCursor{}, ErrInvalidCursor
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.CheckInCursor{}, ErrInvalidCursor
	}
	return model.CheckInCursor{ValidatedAt: validatedAt, ID: id}, nil
}

// CountByGym はジムのチェックイン数を[from, to)の範囲で返す。
func (l *Ledger) CountByGym(ctx context.Context, gymID string, from, to time.Time) (int, error) {
	count, err := upstream.Read(ctx, l.policy, "ledger.count", func(ctx context.Context) (int, error) {
		return l.repo.CountByGym(ctx, gymID, from, to)
	})
	if err != nil {
		if _, ok := model.KindOf(err); ok {
			return 0, err
		}
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return count, nil
}
