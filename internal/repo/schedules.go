package repo

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
)

func (r Repo) InsertSchedule(ctx context.Context, s domain.WorkerSchedule) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO worker_schedules(id,worker_id,team_id,starts_on,ends_on,is_active,deactivated_at,deactivated_reason) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkerID, s.TeamID, s.StartsOn, nullableStringPtr(s.EndsOn), boolInt(s.IsActive),
		nullableStringPtr(s.DeactivatedAt), nullableStringPtr(s.DeactivatedReason))
	if err != nil {
		return errors.Wrap(err, "insert schedule")
	}
	return nil
}

func (r Repo) ListSchedules(ctx context.Context, workerID string) ([]domain.WorkerSchedule, error) {
	query := `SELECT id,worker_id,team_id,starts_on,ends_on,is_active,deactivated_at,deactivated_reason FROM worker_schedules`
	var args []any
	if workerID != "" {
		query += ` WHERE worker_id=?`
		args = append(args, workerID)
	}
	query += ` ORDER BY starts_on DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	defer rows.Close()
	var res []domain.WorkerSchedule
	for rows.Next() {
		var s domain.WorkerSchedule
		var endsOn, deactivatedAt, reason sql.NullString
		var active int
		if err := rows.Scan(&s.ID, &s.WorkerID, &s.TeamID, &s.StartsOn, &endsOn, &active, &deactivatedAt, &reason); err != nil {
			return nil, errors.Wrap(err, "scan schedule")
		}
		s.IsActive = active != 0
		s.EndsOn = stringPtr(endsOn)
		s.DeactivatedAt = stringPtr(deactivatedAt)
		s.DeactivatedReason = stringPtr(reason)
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	return res, nil
}

// DeactivateWorkerSchedules switches off every active schedule of a worker
// and returns how many rows changed.
func (r Repo) DeactivateWorkerSchedules(ctx context.Context, workerID, reason, at string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE worker_schedules SET is_active=0, deactivated_at=?, deactivated_reason=? WHERE worker_id=? AND is_active=1`,
		at, nullable(reason), workerID)
	if err != nil {
		return 0, errors.Wrap(err, "deactivate schedules")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deactivate schedules rows")
	}
	return n, nil
}
