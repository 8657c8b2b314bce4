package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/gymgate/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したローカルユーザーリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindBySubject は指定subjectのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindBySubject(ctx context.Context, subjectID string) (*model.LocalIdentity, error) {
	identity := &model.LocalIdentity{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT subject_id, display_name, email, role, active, email_verified, created_at
		 FROM identities WHERE subject_id = $1`,
		subjectID,
	).Scan(&identity.SubjectID, &identity.DisplayName, &identity.Email, &role,
		&identity.Active, &identity.EmailVerified, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by subject: %w", err)
	}

	identity.Role = model.ParseRole(role)
	return identity, nil
}

// CreateIfAbsent はsubject IDを主キーとしてユーザーを作成する。
// ON CONFLICT DO NOTHINGにより、競合時はエラーにせずcreated=falseを返す。
func (r *PostgresIdentityRepo) CreateIfAbsent(ctx context.Context, identity *model.LocalIdentity) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (subject_id, display_name, email, role, active, email_verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (subject_id) DO NOTHING`,
		identity.SubjectID, identity.DisplayName, identity.Email, string(identity.Role),
		identity.Active, identity.EmailVerified, identity.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert identity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
