package credential

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/gymgate/internal/events"
	"github.com/hitoshi/gymgate/internal/ledger"
	"github.com/hitoshi/gymgate/internal/model"
)

// DefaultClockSkew は発行時刻が未来側にずれていても許容する幅。
const DefaultClockSkew = 5 * time.Second

// OutcomeGranted は検証成功の結果ラベル。失敗時はErrorKindを小文字化したものを使う。
const OutcomeGranted = "granted"

// IdentityLookup はsubjectのLocalIdentityを作成なしで取得する。
type IdentityLookup interface {
	Lookup(ctx context.Context, subjectID string) (*model.LocalIdentity, error)
}

// MembershipChecker はsubjectがジムの有効な会員・スタッフかを判定する。
type MembershipChecker interface {
	IsActive(ctx context.Context, subjectID, gymID string, at time.Time) (bool, error)
}

// CheckInRecorder はチェックインを台帳に記録する。記録済みならledger.ErrDuplicateを返す。
type CheckInRecorder interface {
	Record(ctx context.Context, subjectID, nonce, gymID string, at time.Time) (*model.CheckInRecord, error)
}

// OutcomeRecorder は検証結果と所要時間を記録する（メトリクス用）。
type OutcomeRecorder interface {
	RecordValidation(outcome string, elapsed time.Duration)
	RecordEventPublishFailure()
}

// CheckInResult は検証成功時の結果。
type CheckInResult struct {
	Identity *model.LocalIdentity
	Record   *model.CheckInRecord
}

// ValidatorConfig はValidatorの設定。
type ValidatorConfig struct {
	TTL          time.Duration
	ClockSkew    time.Duration
	PublishLimit time.Duration
}

// Validator は受付で提示されたクレデンシャルを検証し、成功時に台帳へ記録する。
// 共有ロックは持たず、同じクレデンシャルの同時提示は台帳の一意制約でのみ直列化される。
type Validator struct {
	keys        *KeyRing
	identities  IdentityLookup
	memberships MembershipChecker
	ledger      CheckInRecorder
	publisher   events.Publisher
	recorder    OutcomeRecorder
	cfg         ValidatorConfig

	now func() time.Time
}

// NewValidator はValidatorを生成する。publisherとrecorderはnilでもよい。
func NewValidator(
	keys *KeyRing,
	identities IdentityLookup,
	memberships MembershipChecker,
	recorder CheckInRecorder,
	publisher events.Publisher,
	outcomes OutcomeRecorder,
	cfg ValidatorConfig,
) *Validator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.PublishLimit <= 0 {
		cfg.PublishLimit = 2 * time.Second
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Validator{
		keys:        keys,
		identities:  identities,
		memberships: memberships,
		ledger:      recorder,
		publisher:   publisher,
		recorder:    outcomes,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Validate はencodedをgymIDでのチェックインとして検証する。
// 各段階の失敗はAccessErrorとして即座に返し、成功した場合のみ台帳に記録される。
func (v *Validator) Validate(ctx context.Context, encoded, gymID string) (*CheckInResult, error) {
	start := v.now()
	result, err := v.validate(ctx, encoded, gymID, start)
	v.observe(ctx, gymID, result, err, start)
	return result, err
}

func (v *Validator) validate(ctx context.Context, encoded, gymID string, now time.Time) (*CheckInResult, error) {
	// 1. 構造
	parts, err := splitWire(encoded)
	if errors.Is(err, errMalformed) {
		return nil, model.NewAccessError(model.KindMalformedCredential, "not a credential", err)
	}
	if err != nil {
		return nil, model.NewAccessError(model.KindInvalidSignature, "undecodable credential", err)
	}

	// 2. 署名。署名はエンコード済みの文字列に対して検証し、フィールドの解釈は検証後に行う
	kid, err := keyIDOf(parts.payload)
	if err != nil {
		return nil, model.NewAccessError(model.KindInvalidSignature, "unknown signing key", err)
	}
	if !v.keys.verify(kid, []byte(parts.signed), parts.sig) {
		return nil, model.NewAccessError(model.KindInvalidSignature, "signature mismatch", errBadSignature)
	}
	if parts.version != wireVersion {
		return nil, model.NewAccessError(model.KindMalformedCredential, "unsupported credential version", errMalformed)
	}
	cred, err := parsePayload(parts.payload)
	if err != nil {
		return nil, model.NewAccessError(model.KindMalformedCredential, "invalid payload fields", err)
	}

	// 3. 有効期限
	if now.Sub(cred.IssuedAt) > v.cfg.TTL {
		return nil, model.NewAccessError(model.KindCredentialExpired, "credential older than validity window", nil)
	}
	if cred.IssuedAt.After(now.Add(v.cfg.ClockSkew)) {
		return nil, model.NewAccessError(model.KindCredentialExpired, "credential issued in the future", nil)
	}

	// 4. ローカルユーザー
	identity, err := v.identities.Lookup(ctx, cred.SubjectID)
	if err != nil {
		return nil, err
	}

	// 5. 所属
	active, err := v.memberships.IsActive(ctx, cred.SubjectID, gymID, now)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, model.NewAccessError(model.KindMembershipInactive, "no active membership at gym", nil)
	}

	// 6. 台帳への記録。重複はリプレイとして扱い、再試行しない
	record, err := v.ledger.Record(ctx, cred.SubjectID, hex.EncodeToString(cred.Nonce), gymID, now)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return nil, model.NewAccessError(model.KindCredentialReplayed, "nonce already recorded", err)
		}
		return nil, err
	}

	v.publish(ctx, record)
	return &CheckInResult{Identity: identity, Record: record}, nil
}

// publish はチェックインイベントを配信する。失敗はログとメトリクスに残すのみで結果は変えない。
func (v *Validator) publish(ctx context.Context, record *model.CheckInRecord) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.cfg.PublishLimit)
	defer cancel()

	err := v.publisher.PublishCheckIn(pubCtx, events.CheckInEvent{
		CheckInID:   record.ID,
		SubjectID:   record.SubjectID,
		GymID:       record.GymID,
		ValidatedAt: record.ValidatedAt,
	})
	if err != nil {
		slog.WarnContext(ctx, "check-in event publish failed",
			slog.String("checkin_id", record.ID),
			slog.String("error", err.Error()),
		)
		if v.recorder != nil {
			v.recorder.RecordEventPublishFailure()
		}
	}
}

func (v *Validator) observe(ctx context.Context, gymID string, result *CheckInResult, err error, start time.Time) {
	outcome := OutcomeGranted
	if err != nil {
		outcome = "error"
		if kind, ok := model.KindOf(err); ok {
			outcome = strings.ToLower(string(kind))
		}
	}
	if v.recorder != nil {
		v.recorder.RecordValidation(outcome, v.now().Sub(start))
	}

	if err != nil {
		slog.InfoContext(ctx, "check-in rejected",
			slog.String("gym_id", gymID),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.InfoContext(ctx, "check-in granted",
		slog.String("gym_id", gymID),
		slog.String("subject_id", result.Identity.SubjectID),
		slog.String("checkin_id", result.Record.ID),
	)
}
