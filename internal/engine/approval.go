package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/lifecycle"
	"caseline/internal/metrics"
	"caseline/internal/repo"
)

// Warning kinds.
const (
	WarningScheduleDeactivation = "schedule_deactivation"
	WarningNotification         = "notification"
)

type ApprovalResult struct {
	Incident domain.Incident `json:"incident"`
	Case     domain.Case     `json:"case"`
	Warnings []Warning       `json:"warnings"`
}

func alreadyProcessed(inc domain.Incident) AlreadyProcessedError {
	err := AlreadyProcessedError{IncidentID: inc.ID, Current: inc.ApprovalStatus}
	if inc.ApprovedBy != nil {
		err.DecidedBy = *inc.ApprovedBy
	}
	if inc.ApprovedAt != nil {
		err.DecidedAt = *inc.ApprovedAt
	}
	return err
}

// loadPending loads an incident and guards that it still awaits a decision.
func (e Engine) loadPending(ctx context.Context, incidentID string) (domain.Incident, error) {
	inc, err := e.GetIncident(ctx, incidentID)
	if err != nil {
		return inc, err
	}
	if !inc.Pending() {
		metrics.IncidentTransition(metrics.OutcomeAlreadyProcessed)
		return inc, alreadyProcessed(inc)
	}
	return inc, nil
}

func caseReason(inc domain.Incident) string {
	label := strings.ReplaceAll(inc.Type, "_", " ")
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%s: %s", label, inc.Description)
}

// Approve moves a pending incident to approved and opens its case in the
// same transaction. Worker schedules are deactivated afterwards on a best
// effort basis; a failure there comes back as a warning.
func (e Engine) Approve(ctx context.Context, incidentID, approverID, notes string) (ApprovalResult, error) {
	incidentID = strings.TrimSpace(incidentID)
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return ApprovalResult{}, ValidationError{Field: "approver_id", Reason: "is required"}
	}
	inc, err := e.loadPending(ctx, incidentID)
	if err != nil {
		return ApprovalResult{}, err
	}

	now := e.now().Truncate(time.Second)
	ts := timestamp(now)
	initial := lifecycle.StatusNew
	caseNotes, err := lifecycle.Encode("", lifecycle.Partial{
		CaseStatus:    &initial,
		ApprovedBy:    &approverID,
		ApprovedAt:    &now,
		ClinicalNotes: optionalString(notes),
	})
	if err != nil {
		return ApprovalResult{}, ValidationError{Field: "notes", Reason: err.Error()}
	}
	c := domain.Case{
		ID:            newID(),
		WorkerID:      inc.WorkerID,
		TeamID:        inc.TeamID,
		ExceptionType: e.Config.CaseTypeFor(inc.Type),
		Reason:        caseReason(inc),
		StartDate:     inc.IncidentDate,
		IsActive:      true,
		IncidentID:    inc.ID,
		CreatedBy:     approverID,
		Notes:         &caseNotes,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalResult{}, persistence("begin approve", err)
	}
	defer tx.Rollback()
	applied, err := e.Repo.DecideIncidentTx(ctx, tx, repo.IncidentDecision{
		ID:        inc.ID,
		Status:    domain.ApprovalApproved,
		DecidedBy: approverID,
		DecidedAt: ts,
	})
	if err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("approve incident", err)
	}
	if !applied {
		return ApprovalResult{}, e.lostRace(ctx, tx, inc.ID)
	}
	if err := e.Repo.InsertCaseTx(ctx, tx, c); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("create case", err)
	}
	if err := e.Repo.SetIncidentCaseTx(ctx, tx, inc.ID, c.ID, ts); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("link case", err)
	}
	w := e.eventWriter()
	if err := w.Append(ctx, tx, events.IncidentApproved, "incident", inc.ID, approverID, events.EventPayload{
		"case_id": c.ID,
	}); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("approve incident", err)
	}
	if err := w.Append(ctx, tx, events.CaseCreated, "case", c.ID, approverID, events.EventPayload{
		"incident_id":    inc.ID,
		"exception_type": c.ExceptionType,
		"start_date":     c.StartDate,
	}); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("create case", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return ApprovalResult{}, persistence("commit approve", err)
	}
	metrics.IncidentTransition(metrics.OutcomeApproved)

	inc.ApprovalStatus = domain.ApprovalApproved
	inc.ApprovedBy = &approverID
	inc.ApprovedAt = &ts
	inc.CaseID = &c.ID
	inc.UpdatedAt = ts
	e.log().WithFields(logrus.Fields{
		"incident_id": inc.ID,
		"case_id":     c.ID,
		"approver_id": approverID,
	}).Info("incident approved")

	res := ApprovalResult{Incident: inc, Case: c, Warnings: []Warning{}}
	if warn := e.deactivateSchedules(ctx, inc, approverID); warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	return res, nil
}

// Reject moves a pending incident to rejected. No case is created.
func (e Engine) Reject(ctx context.Context, incidentID, rejectorID, reason string) (domain.Incident, error) {
	incidentID = strings.TrimSpace(incidentID)
	rejectorID = strings.TrimSpace(rejectorID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Incident{}, ValidationError{Field: "reason", Reason: "is required"}
	}
	if rejectorID == "" {
		return domain.Incident{}, ValidationError{Field: "rejector_id", Reason: "is required"}
	}
	inc, err := e.loadPending(ctx, incidentID)
	if err != nil {
		return domain.Incident{}, err
	}
	ts := timestamp(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, persistence("begin reject", err)
	}
	defer tx.Rollback()
	applied, err := e.Repo.DecideIncidentTx(ctx, tx, repo.IncidentDecision{
		ID:              inc.ID,
		Status:          domain.ApprovalRejected,
		DecidedBy:       rejectorID,
		DecidedAt:       ts,
		RejectionReason: &reason,
	})
	if err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return domain.Incident{}, persistence("reject incident", err)
	}
	if !applied {
		return domain.Incident{}, e.lostRace(ctx, tx, inc.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.IncidentRejected, "incident", inc.ID, rejectorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return domain.Incident{}, persistence("reject incident", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.IncidentTransition(metrics.OutcomeFailed)
		return domain.Incident{}, persistence("commit reject", err)
	}
	metrics.IncidentTransition(metrics.OutcomeRejected)

	inc.ApprovalStatus = domain.ApprovalRejected
	inc.ApprovedBy = &rejectorID
	inc.ApprovedAt = &ts
	inc.RejectionReason = &reason
	inc.UpdatedAt = ts
	e.log().WithFields(logrus.Fields{
		"incident_id": inc.ID,
		"rejector_id": rejectorID,
	}).Info("incident rejected")
	return inc, nil
}

// lostRace re-reads an incident whose conditional update matched nothing
// and reports who decided it.
func (e Engine) lostRace(ctx context.Context, tx *sql.Tx, incidentID string) error {
	current, err := e.Repo.GetIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return persistence("reload incident", err)
	}
	metrics.IncidentTransition(metrics.OutcomeAlreadyProcessed)
	return alreadyProcessed(current)
}

// deactivateSchedules switches off the worker's active schedules. The
// approval is already committed, so failures only produce a warning.
func (e Engine) deactivateSchedules(ctx context.Context, inc domain.Incident, actorID string) *Warning {
	fields := logrus.Fields{
		"incident_id": inc.ID,
		"worker_id":   inc.WorkerID,
	}
	n, err := e.Repo.DeactivateWorkerSchedules(ctx, inc.WorkerID, "incident approved: "+inc.ID, timestamp(e.now()))
	if err != nil {
		metrics.SideEffectFailure(metrics.SideEffectScheduleDeactivation)
		e.log().WithError(err).WithFields(fields).Warn("schedule deactivation failed; approval stands")
		return &Warning{
			Kind:    WarningScheduleDeactivation,
			Message: fmt.Sprintf("worker %s schedules were not deactivated: %v", inc.WorkerID, err),
		}
	}
	if err := e.eventWriter().AppendStandalone(ctx, events.ScheduleDeactivated, "worker", inc.WorkerID, actorID, events.EventPayload{
		"incident_id": inc.ID,
		"count":       n,
	}); err != nil {
		e.log().WithError(err).WithFields(fields).Warn("schedule deactivation event not recorded")
	}
	return nil
}
