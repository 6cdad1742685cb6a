package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
)

const caseColumns = `id,worker_id,team_id,exception_type,reason,start_date,end_date,is_active,duty_type,incident_id,created_by,notes,created_at,updated_at`

func scanCase(s scanner) (domain.Case, error) {
	var c domain.Case
	var endDate, dutyType, notes sql.NullString
	var active int
	err := s.Scan(&c.ID, &c.WorkerID, &c.TeamID, &c.ExceptionType, &c.Reason, &c.StartDate, &endDate, &active, &dutyType,
		&c.IncidentID, &c.CreatedBy, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, errors.Wrap(err, "scan case")
	}
	c.IsActive = active != 0
	c.EndDate = stringPtr(endDate)
	c.DutyType = stringPtr(dutyType)
	c.Notes = stringPtr(notes)
	return c, nil
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO worker_exceptions(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkerID, c.TeamID, c.ExceptionType, c.Reason, c.StartDate, nullableStringPtr(c.EndDate), boolInt(c.IsActive),
		nullableStringPtr(c.DutyType), c.IncidentID, c.CreatedBy, nullableStringPtr(c.Notes), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert case")
	}
	return nil
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM worker_exceptions WHERE id=?`, id))
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM worker_exceptions WHERE id=?`, id))
}

func (r Repo) GetCaseByIncident(ctx context.Context, incidentID string) (domain.Case, error) {
	return scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM worker_exceptions WHERE incident_id=?`, incidentID))
}

// CaseUpdate rewrites a case's mutable fields. Notes must be the complete
// merged value; PrevNotes is the value it was derived from.
type CaseUpdate struct {
	ID        string
	PrevNotes string
	Notes     string
	IsActive  *bool
	EndDate   *string
	DutyType  *string
	UpdatedAt string
}

// UpdateCaseTx applies u only if the stored notes still equal PrevNotes. It
// reports false when the notes changed underneath the caller.
func (r Repo) UpdateCaseTx(ctx context.Context, tx *sql.Tx, u CaseUpdate) (bool, error) {
	sets := []string{"notes=?", "updated_at=?"}
	args := []any{u.Notes, u.UpdatedAt}
	if u.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, boolInt(*u.IsActive))
	}
	if u.EndDate != nil {
		sets = append(sets, "end_date=?")
		args = append(args, nullableStringPtr(u.EndDate))
	}
	if u.DutyType != nil {
		sets = append(sets, "duty_type=?")
		args = append(args, nullableStringPtr(u.DutyType))
	}
	args = append(args, u.ID, u.PrevNotes)
	res, err := tx.ExecContext(ctx, `UPDATE worker_exceptions SET `+strings.Join(sets, ", ")+` WHERE id=? AND COALESCE(notes,'')=?`, args...)
	if err != nil {
		return false, errors.Wrap(err, "update case")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "update case rows")
	}
	return n == 1, nil
}

type CaseFilters struct {
	WorkerID   string
	TeamIDs    []string
	ActiveOnly bool
	Limit      int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if len(f.TeamIDs) > 0 {
		clauses = append(clauses, "team_id IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.TeamIDs)), ",")+")")
		for _, id := range f.TeamIDs {
			args = append(args, id)
		}
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM worker_exceptions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list cases")
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list cases")
	}
	return res, nil
}
