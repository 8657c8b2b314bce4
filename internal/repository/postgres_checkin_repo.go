package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/gymgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresCheckInRepo はPostgreSQLを使用したチェックイン台帳リポジトリ。
type PostgresCheckInRepo struct {
	db *sql.DB
}

// NewPostgresCheckInRepo はPostgresCheckInRepoを生成する。
func NewPostgresCheckInRepo(db *sql.DB) *PostgresCheckInRepo {
	return &PostgresCheckInRepo{db: db}
}

// InsertIfAbsent はチェックイン記録を挿入する。
// 同時に同じクレデンシャルが提示された場合、このINSERTが唯一の直列化ポイントとなり、
// 先に確定した1件のみが成功する。
func (r *PostgresCheckInRepo) InsertIfAbsent(ctx context.Context, record *model.CheckInRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO check_ins (id, subject_id, nonce, gym_id, validated_at, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING`,
		record.ID, record.SubjectID, record.Nonce, record.GymID, record.ValidatedAt, string(record.Outcome),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert check-in: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// ListByGym はジムのチェックイン記録を[from, to)の範囲で(validated_at, id)の降順に返す。
func (r *PostgresCheckInRepo) ListByGym(ctx context.Context, gymID string, from, to time.Time, cursor model.CheckInCursor, limit int) ([]*model.CheckInRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, subject_id, nonce, gym_id, validated_at, outcome
			 FROM check_ins
			 WHERE gym_id = $1 AND validated_at >= $2 AND validated_at < $3
			 ORDER BY validated_at DESC, id DESC
			 LIMIT $4`,
			gymID, from, to, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, subject_id, nonce, gym_id, validated_at, outcome
			 FROM check_ins
			 WHERE gym_id = $1 AND validated_at >= $2 AND validated_at < $3
			   AND (validated_at, id) < ($4, $5::uuid)
			 ORDER BY validated_at DESC, id DESC
			 LIMIT $6`,
			gymID, from, to, cursor.ValidatedAt, cursor.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var records []*model.CheckInRecord
	for rows.Next() {
		rec := &model.CheckInRecord{}
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.Nonce, &rec.GymID, &rec.ValidatedAt, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		rec.Outcome = model.CheckInOutcome(outcome)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check-ins: %w", err)
	}

	return records, nil
}

// CountByGym はジムのチェックイン数を[from, to)の範囲で返す。
func (r *PostgresCheckInRepo) CountByGym(ctx context.Context, gymID string, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM check_ins
		 WHERE gym_id = $1 AND validated_at >= $2 AND validated_at < $3`,
		gymID, from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ CheckInRepository = (*PostgresCheckInRepo)(nil)
