// Package membership はジムへの所属が有効かどうかを判定する。
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/upstream"
)

// Checker は会員管理モジュールの所属情報を参照して入館可否を判定する。
type Checker struct {
	repo   repository.MembershipRepository
	policy *upstream.Policy
}

// NewChecker はCheckerを生成する。
func NewChecker(repo repository.MembershipRepository, policy *upstream.Policy) *Checker {
	return &Checker{repo: repo, policy: policy}
}

// IsActive はsubjectが時刻atにgymIDの有効な会員またはスタッフであればtrueを返す。
// 読み取りは冪等のため、一時的な失敗は1回だけ再試行する。
func (c *Checker) IsActive(ctx context.Context, subjectID, gymID string, at time.Time) (bool, error) {
	memberships, err := upstream.Read(ctx, c.policy, "membership.find", func(ctx context.Context) ([]*model.Membership, error) {
		return c.repo.FindByGymAndSubject(ctx, gymID, subjectID)
	})
	if err != nil {
		if _, ok := model.KindOf(err); ok {
			return false, err
		}
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	for _, m := range memberships {
		if m.ValidAt(at) {
			return true, nil
		}
	}
	return false, nil
}
