package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/gymgate/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用した会員所属リポジトリ。
// membershipsテーブルは会員管理モジュールが所有し、ここでは参照のみ行う。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// FindByGymAndSubject は指定ジム・subjectの所属情報を全て返す。
func (r *PostgresMembershipRepo) FindByGymAndSubject(ctx context.Context, gymID, subjectID string) ([]*model.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT gym_id, subject_id, kind, status, valid_from, valid_until
		 FROM memberships
		 WHERE gym_id = $1 AND subject_id = $2`,
		gymID, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*model.Membership
	for rows.Next() {
		m := &model.Membership{}
		var kind, status string
		var validUntil sql.NullTime
		if err := rows.Scan(&m.GymID, &m.SubjectID, &kind, &status, &m.ValidFrom, &validUntil); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.Kind = model.MembershipKind(kind)
		m.Status = model.MembershipStatus(status)
		if validUntil.Valid {
			t := validUntil.Time
			m.ValidUntil = &t
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return memberships, nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
