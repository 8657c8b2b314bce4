package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/upstream"
)

// --- モック定義 ---

type mockMembershipRepo struct {
	findFn func(ctx context.Context, gymID, subjectID string) ([]*model.Membership, error)
	calls  int
}

func (m *mockMembershipRepo) FindByGymAndSubject(ctx context.Context, gymID, subjectID string) ([]*model.Membership, error) {
	m.calls++
	return m.findFn(ctx, gymID, subjectID)
}

// --- テスト ---

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name        string
		memberships []model.Membership
		want        bool
	}{
		{"所属なし", nil, false},
		{"有効な会員", []model.Membership{{GymID: "g1", SubjectID: "u1", Kind: model.MembershipMember, Status: model.MembershipActive, ValidFrom: past}}, true},
		{"有効なスタッフ", []model.Membership{{GymID: "g1", SubjectID: "u1", Kind: model.MembershipStaff, Status: model.MembershipActive, ValidFrom: past}}, true},
		{"停止中", []model.Membership{{GymID: "g1", SubjectID: "u1", Status: model.MembershipSuspended, ValidFrom: past}}, false},
		{"期間終了", []model.Membership{{GymID: "g1", SubjectID: "u1", Status: model.MembershipActive, ValidFrom: past, ValidUntil: &now}}, false},
		{"開始前", []model.Membership{{GymID: "g1", SubjectID: "u1", Status: model.MembershipActive, ValidFrom: future}}, false},
		{"別ジムのみ", []model.Membership{{GymID: "g2", SubjectID: "u1", Status: model.MembershipActive, ValidFrom: past}}, false},
		{"いずれか1つが有効", []model.Membership{
			{GymID: "g1", SubjectID: "u1", Kind: model.MembershipMember, Status: model.MembershipInactive, ValidFrom: past},
			{GymID: "g1", SubjectID: "u1", Kind: model.MembershipStaff, Status: model.MembershipActive, ValidFrom: past, ValidUntil: &future},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(repository.NewMemoryMembershipRepo(tt.memberships...), upstream.NewPolicy(time.Second))
			got, err := c.IsActive(context.Background(), "u1", "g1", now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsActive_ReadError(t *testing.T) {
	repo := &mockMembershipRepo{
		findFn: func(context.Context, string, string) ([]*model.Membership, error) {
			return nil, errors.New("connection refused")
		},
	}
	policy := upstream.NewPolicy(time.Second)
	policy.RetryBase = time.Millisecond
	c := NewChecker(repo, policy)

	if _, err := c.IsActive(context.Background(), "u1", "g1", time.Now()); err == nil {
		t.Fatal("expected error")
	}
	if repo.calls != 2 {
		t.Errorf("calls = %d, want 2", repo.calls)
	}
}

func TestIsActive_Timeout(t *testing.T) {
	repo := &mockMembershipRepo{
		findFn: func(ctx context.Context, _, _ string) ([]*model.Membership, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	policy := upstream.NewPolicy(20 * time.Millisecond)
	policy.RetryBase = time.Millisecond
	c := NewChecker(repo, policy)

	_, err := c.IsActive(context.Background(), "u1", "g1", time.Now())
	if !errors.Is(err, model.ErrUpstreamTimeout) {
		t.Errorf("err = %v, want UpstreamTimeout", err)
	}
}
