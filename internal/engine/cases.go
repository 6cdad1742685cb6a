package engine

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/lifecycle"
	"caseline/internal/metrics"
	"caseline/internal/repo"
)

// Duty types recorded when a worker returns or a case closes.
const (
	DutyFull     = "full"
	DutyModified = "modified"
	DutyNone     = "none"
)

func validDuty(d string) bool {
	return d == DutyFull || d == DutyModified || d == DutyNone
}

// caseMutation is what an action wants written to a case.
type caseMutation struct {
	partial  lifecycle.Partial
	isActive *bool
	endDate  *string
	dutyType *string
	event    string
	payload  events.EventPayload
}

// mutateCase reads the case, lets build derive the change, and writes the
// merged notes only if nobody changed them meanwhile. A conflict is retried
// once with a fresh read.
func (e Engine) mutateCase(ctx context.Context, caseID, actorID string, build func(domain.Case) (caseMutation, error)) (domain.Case, error) {
	caseID = strings.TrimSpace(caseID)
	for attempt := 0; attempt < 2; attempt++ {
		c, applied, err := e.tryMutateCase(ctx, caseID, actorID, build)
		if err != nil {
			return domain.Case{}, err
		}
		if applied {
			return c, nil
		}
		e.log().WithField("case_id", caseID).Debug("case notes changed concurrently; retrying")
	}
	return domain.Case{}, ConflictError{CaseID: caseID}
}

func (e Engine) tryMutateCase(ctx context.Context, caseID, actorID string, build func(domain.Case) (caseMutation, error)) (domain.Case, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, false, persistence("begin case update", err)
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Case{}, false, NotFoundError{Kind: "case", ID: caseID}
	}
	if err != nil {
		return domain.Case{}, false, persistence("load case", err)
	}
	m, err := build(c)
	if err != nil {
		return domain.Case{}, false, err
	}
	prev := c.NotesText()
	notes, err := lifecycle.Encode(prev, m.partial)
	if err != nil {
		return domain.Case{}, false, ValidationError{Field: "notes", Reason: err.Error()}
	}
	ts := timestamp(e.now())
	applied, err := e.Repo.UpdateCaseTx(ctx, tx, repo.CaseUpdate{
		ID:        c.ID,
		PrevNotes: prev,
		Notes:     notes,
		IsActive:  m.isActive,
		EndDate:   m.endDate,
		DutyType:  m.dutyType,
		UpdatedAt: ts,
	})
	if err != nil {
		return domain.Case{}, false, persistence("update case", err)
	}
	if !applied {
		return domain.Case{}, false, nil
	}
	if err := e.eventWriter().Append(ctx, tx, m.event, "case", c.ID, actorID, m.payload); err != nil {
		return domain.Case{}, false, persistence("update case", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, false, persistence("commit case update", err)
	}
	c.Notes = &notes
	c.UpdatedAt = ts
	if m.isActive != nil {
		c.IsActive = *m.isActive
	}
	if m.endDate != nil {
		c.EndDate = m.endDate
	}
	if m.dutyType != nil {
		c.DutyType = m.dutyType
	}
	return c, true, nil
}

type AdvanceInput struct {
	CaseID  string
	ActorID string
	To      lifecycle.Status
	// DutyType applies to return_to_work and closed; return_to_work
	// defaults to modified duties.
	DutyType string
}

// AdvanceCaseStatus moves a case to the next lifecycle status. Closing
// clears the active flag; closing or returning to work stamps today's end
// date when none is set.
func (e Engine) AdvanceCaseStatus(ctx context.Context, in AdvanceInput) (domain.Case, error) {
	if !in.To.Valid() {
		return domain.Case{}, ValidationError{Field: "status", Reason: "unknown case status " + string(in.To)}
	}
	duty := strings.TrimSpace(in.DutyType)
	if duty != "" && !validDuty(duty) {
		return domain.Case{}, ValidationError{Field: "duty_type", Reason: "must be one of: full, modified, none"}
	}
	var from lifecycle.Status
	c, err := e.mutateCase(ctx, in.CaseID, in.ActorID, func(c domain.Case) (caseMutation, error) {
		from = lifecycle.StatusOf(c.NotesText())
		if err := lifecycle.CanAdvance(from, in.To); err != nil {
			return caseMutation{}, err
		}
		to := in.To
		m := caseMutation{
			partial: lifecycle.Partial{CaseStatus: &to},
			event:   events.CaseStatusChanged,
			payload: events.EventPayload{"from": string(from), "to": string(to)},
		}
		today := e.now().Format(domain.DateLayout)
		switch to {
		case lifecycle.StatusClosed:
			inactive := false
			m.isActive = &inactive
			if c.EndDate == nil {
				m.endDate = &today
			}
			if duty != "" {
				m.dutyType = &duty
			}
		case lifecycle.StatusReturnToWork:
			if c.EndDate == nil {
				m.endDate = &today
			}
			d := duty
			if d == "" {
				d = DutyModified
			}
			m.dutyType = &d
		}
		return m, nil
	})
	if err != nil {
		return domain.Case{}, err
	}
	metrics.CaseStatusChange(string(in.To))
	e.log().WithFields(logrus.Fields{
		"case_id": c.ID,
		"from":    from,
		"to":      in.To,
	}).Info("case status changed")
	return c, nil
}

// UpdateClinicalNotes replaces the clinician's notes on a case, leaving the
// rest of the notes field untouched.
func (e Engine) UpdateClinicalNotes(ctx context.Context, caseID, actorID, text string) (domain.Case, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Case{}, ValidationError{Field: "clinical_notes", Reason: "is required"}
	}
	return e.mutateCase(ctx, caseID, actorID, func(c domain.Case) (caseMutation, error) {
		now := e.now()
		return caseMutation{
			partial: lifecycle.Partial{ClinicalNotes: &text, ClinicalNotesUpdatedAt: &now},
			event:   events.CaseNotesUpdated,
			payload: events.EventPayload{"length": len(text)},
		}, nil
	})
}

type CloseCaseInput struct {
	CaseID  string
	ActorID string
	// EndDate defaults to today.
	EndDate  string
	DutyType string
}

// CloseCase is the WHS closure of a case.
func (e Engine) CloseCase(ctx context.Context, in CloseCaseInput) (domain.Case, error) {
	end := strings.TrimSpace(in.EndDate)
	if end == "" {
		end = e.now().Format(domain.DateLayout)
	}
	endDay, err := lifecycle.ParseDay(end)
	if err != nil {
		return domain.Case{}, ValidationError{Field: "end_date", Reason: "must be a YYYY-MM-DD date"}
	}
	duty := strings.TrimSpace(in.DutyType)
	if duty != "" && !validDuty(duty) {
		return domain.Case{}, ValidationError{Field: "duty_type", Reason: "must be one of: full, modified, none"}
	}
	c, err := e.mutateCase(ctx, in.CaseID, in.ActorID, func(c domain.Case) (caseMutation, error) {
		from := lifecycle.StatusOf(c.NotesText())
		if err := lifecycle.CanAdvance(from, lifecycle.StatusClosed); err != nil {
			return caseMutation{}, err
		}
		if start, err := lifecycle.ParseDay(c.StartDate); err == nil && endDay.Before(start) {
			return caseMutation{}, ValidationError{Field: "end_date", Reason: "must not be before the case start date " + c.StartDate}
		}
		closed := lifecycle.StatusClosed
		inactive := false
		m := caseMutation{
			partial:  lifecycle.Partial{CaseStatus: &closed},
			isActive: &inactive,
			endDate:  &end,
			event:    events.CaseClosed,
			payload:  events.EventPayload{"from": string(from), "end_date": end},
		}
		if duty != "" {
			m.dutyType = &duty
			m.payload["duty_type"] = duty
		}
		return m, nil
	})
	if err != nil {
		return domain.Case{}, err
	}
	metrics.CaseStatusChange(string(lifecycle.StatusClosed))
	e.log().WithFields(logrus.Fields{"case_id": c.ID, "end_date": end}).Info("case closed")
	return c, nil
}
