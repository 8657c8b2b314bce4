package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

// MemoryIdentityRepo はメモリ上のローカルユーザーリポジトリ。
// PostgreSQLの主キー制約と同じ挿入セマンティクスを持つ。テストとローカル検証用。
type MemoryIdentityRepo struct {
	mu         sync.RWMutex
	identities map[string]model.LocalIdentity
}

// NewMemoryIdentityRepo はMemoryIdentityRepoを生成する。
func NewMemoryIdentityRepo() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{identities: make(map[string]model.LocalIdentity)}
}

// FindBySubject は指定subjectのユーザーのコピーを返す。見つからない場合はnilを返す。
func (r *MemoryIdentityRepo) FindBySubject(_ context.Context, subjectID string) (*model.LocalIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[subjectID]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

// CreateIfAbsent は同じsubjectが存在しない場合のみ作成する。
func (r *MemoryIdentityRepo) CreateIfAbsent(_ context.Context, identity *model.LocalIdentity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[identity.SubjectID]; ok {
		return false, nil
	}
	r.identities[identity.SubjectID] = *identity
	return true, nil
}

// SetActive は管理操作によるactiveフラグの変更を模擬する。
func (r *MemoryIdentityRepo) SetActive(subjectID string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if identity, ok := r.identities[subjectID]; ok {
		identity.Active = active
		r.identities[subjectID] = identity
	}
}

// Count は保持しているユーザー数を返す。
func (r *MemoryIdentityRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// MemoryCheckInRepo はメモリ上のチェックイン台帳。
// nonceの一意性をPostgreSQLの一意制約と同様に強制する。
type MemoryCheckInRepo struct {
	mu      sync.RWMutex
	records []model.CheckInRecord
	keys    map[string]struct{}
}

// NewMemoryCheckInRepo はMemoryCheckInRepoを生成する。
func NewMemoryCheckInRepo() *MemoryCheckInRepo {
	return &MemoryCheckInRepo{keys: make(map[string]struct{})}
}

// InsertIfAbsent はnonceが未記録の場合のみ追記する。記録済みならErrDuplicateを返す。
func (r *MemoryCheckInRepo) InsertIfAbsent(_ context.Context, record *model.CheckInRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[record.Nonce]; ok {
		return ErrDuplicate
	}
	r.keys[record.Nonce] = struct{}{}
	r.records = append(r.records, *record)
	return nil
}

// ListByGym はジムのチェックイン記録を[from, to)の範囲でvalidated_at降順に返す。
func (r *MemoryCheckInRepo) ListByGym(_ context.Context, gymID string, from, to time.Time, cursor model.CheckInCursor, limit int) ([]*model.CheckInRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.CheckInRecord
	for i := range r.records {
		rec := r.records[i]
		if rec.GymID != gymID || rec.ValidatedAt.Before(from) || !rec.ValidatedAt.Before(to) {
			continue
		}
		if !cursor.IsZero() && !rec.Before(cursor) {
			continue
		}
		out = append(out, &rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidatedAt.Equal(out[j].ValidatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ValidatedAt.After(out[j].ValidatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByGym はジムのチェックイン数を[from, to)の範囲で返す。
func (r *MemoryCheckInRepo) CountByGym(_ context.Context, gymID string, from, to time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.records {
		if rec.GymID == gymID && !rec.ValidatedAt.Before(from) && rec.ValidatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

// Count は記録済みのチェックイン数を返す。
func (r *MemoryCheckInRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// MemoryMembershipRepo はメモリ上の会員所属リポジトリ。
type MemoryMembershipRepo struct {
	mu          sync.RWMutex
	memberships []model.Membership
}

// NewMemoryMembershipRepo はMemoryMembershipRepoを生成する。
func NewMemoryMembershipRepo(memberships ...model.Membership) *MemoryMembershipRepo {
	return &MemoryMembershipRepo{memberships: memberships}
}

// Add は所属情報を追加する。
func (r *MemoryMembershipRepo) Add(m model.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships = append(r.memberships, m)
}

// FindByGymAndSubject は指定ジム・subjectの所属情報を全て返す。
func (r *MemoryMembershipRepo) FindByGymAndSubject(_ context.Context, gymID, subjectID string) ([]*model.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Membership
	for i := range r.memberships {
		m := r.memberships[i]
		if m.GymID == gymID && m.SubjectID == subjectID {
			out = append(out, &m)
		}
	}
	return out, nil
}

// compile-time interface checks
var (
	_ IdentityRepository   = (*MemoryIdentityRepo)(nil)
	_ CheckInRepository    = (*MemoryCheckInRepo)(nil)
	_ MembershipRepository = (*MemoryMembershipRepo)(nil)
)
