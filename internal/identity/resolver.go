// Package identity は検証済みクレームをローカルユーザーに解決する。
// 初見のsubjectはIdPのプロフィールからJIT作成する。作成は主キー制約で1回に限られる。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/gymgate/internal/idp"
	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/security"
	"github.com/hitoshi/gymgate/internal/upstream"
)

// ProvisionRecorder はJIT作成の結果を記録する（メトリクス用）。
type ProvisionRecorder interface {
	RecordProvisioning(outcome string)
}

// JIT作成の結果ラベル。
const (
	ProvisionCreated  = "created"
	ProvisionRaceLost = "race_lost"
	ProvisionFailed   = "failed"
)

// Resolver はIdentityClaimをLocalIdentityに解決する。
type Resolver struct {
	repo      repository.IdentityRepository
	profiles  idp.ProfileFetcher
	sanitizer security.ProfileSanitizer
	policy    *upstream.Policy
	recorder  ProvisionRecorder

	// 同一インスタンス内の同一subjectのプロフィール取得をまとめる
	profileGroup singleflight.Group

	now func() time.Time
}

// NewResolver はResolverを生成する。recorderはnilでもよい。
func NewResolver(
	repo repository.IdentityRepository,
	profiles idp.ProfileFetcher,
	sanitizer security.ProfileSanitizer,
	policy *upstream.Policy,
	recorder ProvisionRecorder,
) *Resolver {
	return &Resolver{
		repo:      repo,
		profiles:  profiles,
		sanitizer: sanitizer,
		policy:    policy,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Resolve はクレームのsubjectに対応するLocalIdentityを返す。
// 存在しない場合はIdPからプロフィールを取得して作成する。
// 同じsubjectに対する同時呼び出しでも作成されるのは1行のみで、全員が同じ行を受け取る。
func (r *Resolver) Resolve(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error) {
	if claim == nil || claim.Subject == "" {
		return nil, model.NewAccessError(model.KindUnauthenticated, "missing subject", nil)
	}

	existing, err := r.find(ctx, claim.Subject)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return activeOnly(existing)
	}

	profile, err := r.fetchProfile(ctx, claim.Subject)
	if err != nil {
		return nil, err
	}

	return r.provision(ctx, claim, profile)
}

// Lookup はJIT作成を行わずにsubjectのLocalIdentityを返す。
// 存在しない場合はIdentityNotFound、無効化されている場合はIdentityInactiveを返す。
func (r *Resolver) Lookup(ctx context.Context, subjectID string) (*model.LocalIdentity, error) {
	existing, err := r.find(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.NewAccessError(model.KindIdentityNotFound, "no local identity for subject", nil)
	}
	return activeOnly(existing)
}

func (r *Resolver) find(ctx context.Context, subjectID string) (*model.LocalIdentity, error) {
	identity, err := upstream.Read(ctx, r.policy, "identity.find", func(ctx context.Context) (*model.LocalIdentity, error) {
		return r.repo.FindBySubject(ctx, subjectID)
	})
	if err != nil {
		if _, ok := model.KindOf(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	return identity, nil
}

// fetchProfile はIdPからプロフィールを取得する。
// 取得失敗・該当なしはIdentityNotFound、タイムアウトはUpstreamTimeoutとする。
// 共有された取得は呼び出し元のキャンセルから切り離し、各呼び出し元は自身のctxで待つ。
func (r *Resolver) fetchProfile(ctx context.Context, subjectID string) (*model.Profile, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.profileGroup.DoChan(subjectID, func() (interface{}, error) {
		return upstream.Read(shared, r.policy, "idp.profile", func(ctx context.Context) (*model.Profile, error) {
			return r.profiles.FetchProfile(ctx, subjectID)
		})
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		if kind, ok := model.KindOf(res.Err); ok && kind == model.KindUpstreamTimeout {
			return nil, res.Err
		}
		slog.WarnContext(ctx, "profile fetch failed",
			slog.String("subject_id", subjectID),
			slog.String("error", res.Err.Error()),
		)
		return nil, model.NewAccessError(model.KindIdentityNotFound, "profile fetch failed", res.Err)
	}

	profile, _ := res.Val.(*model.Profile)
	if profile == nil {
		slog.WarnContext(ctx, "subject unknown to identity provider", slog.String("subject_id", subjectID))
		return nil, model.NewAccessError(model.KindIdentityNotFound, "subject unknown to identity provider", nil)
	}
	return profile, nil
}

// provision はLocalIdentityを作成する。競合で作成できなかった場合は勝者の行を読み直して返す。
func (r *Resolver) provision(ctx context.Context, claim *model.IdentityClaim, profile *model.Profile) (*model.LocalIdentity, error) {
	identity := r.buildIdentity(claim, profile)

	created, err := upstream.Call(ctx, r.policy, "identity.create", func(ctx context.Context) (bool, error) {
		return r.repo.CreateIfAbsent(ctx, identity)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.record(ProvisionFailed)
		if kind, ok := model.KindOf(err); ok && kind == model.KindUpstreamTimeout {
			return nil, err
		}
		slog.ErrorContext(ctx, "identity provisioning failed",
			slog.String("subject_id", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewAccessError(model.KindIdentityProvisioningFailed, "insert failed", err)
	}

	if created {
		r.record(ProvisionCreated)
		slog.InfoContext(ctx, "identity provisioned",
			slog.String("subject_id", identity.SubjectID),
			slog.String("role", string(identity.Role)),
		)
		return identity, nil
	}

	r.record(ProvisionRaceLost)
	winner, err := r.find(ctx, identity.SubjectID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, model.NewAccessError(model.KindIdentityProvisioningFailed, "identity missing after conflicting insert", nil)
	}
	return activeOnly(winner)
}

// buildIdentity はプロフィールとクレームから作成するLocalIdentityを組み立てる。
// ロールはプロフィールのメタデータ、クレームのヒント、clientの順に決定する。
func (r *Resolver) buildIdentity(claim *model.IdentityClaim, profile *model.Profile) *model.LocalIdentity {
	role := profile.Role
	if role == "" {
		role = claim.RoleHint
	}
	name := profile.DisplayName
	if name == "" {
		name = claim.DisplayName
	}
	email := profile.Email
	if email == "" {
		email = claim.Email
	}

	return &model.LocalIdentity{
		SubjectID:     claim.Subject,
		DisplayName:   r.sanitizer.DisplayName(name),
		Email:         r.sanitizer.Email(email),
		Role:          model.ParseRole(role),
		Active:        true,
		EmailVerified: profile.EmailVerified,
		CreatedAt:     r.now().UTC(),
	}
}

func (r *Resolver) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordProvisioning(outcome)
	}
}

func activeOnly(identity *model.LocalIdentity) (*model.LocalIdentity, error) {
	if !identity.Active {
		return nil, model.NewAccessError(model.KindIdentityInactive, "identity deactivated", nil)
	}
	return identity, nil
}
