package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
)

const incidentColumns = `id,worker_id,team_id,incident_type,incident_date,description,severity,location,photo_ref,ai_analysis_json,approval_status,approved_by,approved_at,rejection_reason,case_id,created_at,updated_at`

func scanIncident(s scanner) (domain.Incident, error) {
	var inc domain.Incident
	var photo, ai, approvedBy, approvedAt, reason, caseID sql.NullString
	err := s.Scan(&inc.ID, &inc.WorkerID, &inc.TeamID, &inc.Type, &inc.IncidentDate, &inc.Description, &inc.Severity, &inc.Location,
		&photo, &ai, &inc.ApprovalStatus, &approvedBy, &approvedAt, &reason, &caseID, &inc.CreatedAt, &inc.UpdatedAt)
	if err == sql.ErrNoRows {
		return inc, ErrNotFound
	}
	if err != nil {
		return inc, errors.Wrap(err, "scan incident")
	}
	inc.PhotoRef = stringPtr(photo)
	inc.AIAnalysisJSON = stringPtr(ai)
	inc.ApprovedBy = stringPtr(approvedBy)
	inc.ApprovedAt = stringPtr(approvedAt)
	inc.RejectionReason = stringPtr(reason)
	inc.CaseID = stringPtr(caseID)
	return inc, nil
}

func (r Repo) InsertIncident(ctx context.Context, inc domain.Incident) error {
	return r.insertIncident(ctx, r.DB, inc)
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, inc domain.Incident) error {
	return r.insertIncident(ctx, tx, inc)
}

func (r Repo) insertIncident(ctx context.Context, q querier, inc domain.Incident) error {
	_, err := q.ExecContext(ctx, `INSERT INTO incidents(`+incidentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.WorkerID, inc.TeamID, inc.Type, inc.IncidentDate, inc.Description, inc.Severity, inc.Location,
		nullableStringPtr(inc.PhotoRef), nullableStringPtr(inc.AIAnalysisJSON), inc.ApprovalStatus,
		nullableStringPtr(inc.ApprovedBy), nullableStringPtr(inc.ApprovedAt), nullableStringPtr(inc.RejectionReason),
		nullableStringPtr(inc.CaseID), inc.CreatedAt, inc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert incident")
	}
	return nil
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id))
}

func (r Repo) GetIncidentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Incident, error) {
	return scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id))
}

// IncidentDecision is the write applied when an incident leaves pending_approval.
type IncidentDecision struct {
	ID              string
	Status          string
	DecidedBy       string
	DecidedAt       string
	RejectionReason *string
}

// DecideIncidentTx applies d only while the incident is still pending. It
// reports false when another decision got there first.
func (r Repo) DecideIncidentTx(ctx context.Context, tx *sql.Tx, d IncidentDecision) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET approval_status=?, approved_by=?, approved_at=?, rejection_reason=?, updated_at=?
WHERE id=? AND approval_status=?`,
		d.Status, d.DecidedBy, d.DecidedAt, nullableStringPtr(d.RejectionReason), d.DecidedAt, d.ID, domain.ApprovalPending)
	if err != nil {
		return false, errors.Wrap(err, "decide incident")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "decide incident rows")
	}
	return n == 1, nil
}

func (r Repo) SetIncidentCaseTx(ctx context.Context, tx *sql.Tx, incidentID, caseID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET case_id=?, updated_at=? WHERE id=?`, caseID, now, incidentID)
	if err != nil {
		return errors.Wrap(err, "link incident case")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type IncidentFilters struct {
	TeamID   string
	WorkerID string
	Status   string
	Limit    int
}

func (r Repo) ListIncidents(ctx context.Context, f IncidentFilters) ([]domain.Incident, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "approval_status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list incidents")
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list incidents")
	}
	return res, nil
}
