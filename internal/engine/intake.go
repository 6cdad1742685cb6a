package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/lifecycle"
	"caseline/internal/metrics"
	"caseline/internal/repo"
)

// SubmitIncidentInput is a worker's incident report.
type SubmitIncidentInput struct {
	WorkerID    string `validate:"required"`
	TeamID      string `validate:"required"`
	Type        string `validate:"required,oneof=injury incident near_miss illness property_damage"`
	Date        string `validate:"required"`
	Description string `validate:"required"`
	Severity    string `validate:"required,oneof=low medium high critical"`
	Location    string
	PhotoRef    string
	AIAnalysis  string
}

func (in *SubmitIncidentInput) normalize() {
	in.WorkerID = strings.TrimSpace(in.WorkerID)
	in.TeamID = strings.TrimSpace(in.TeamID)
	in.Type = strings.TrimSpace(in.Type)
	in.Date = strings.TrimSpace(in.Date)
	in.Description = strings.TrimSpace(in.Description)
	in.Severity = strings.TrimSpace(in.Severity)
	in.Location = strings.TrimSpace(in.Location)
	in.PhotoRef = strings.TrimSpace(in.PhotoRef)
	in.AIAnalysis = strings.TrimSpace(in.AIAnalysis)
}

var submitFields = map[string]string{
	"WorkerID":    "worker_id",
	"TeamID":      "team_id",
	"Type":        "incident_type",
	"Date":        "incident_date",
	"Description": "description",
	"Severity":    "severity",
}

func (e Engine) validateSubmit(in SubmitIncidentInput) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			reason := "is required"
			if first.Tag() == "oneof" {
				reason = "must be one of: " + strings.ReplaceAll(first.Param(), " ", ", ")
			}
			return ValidationError{Field: submitFields[first.StructField()], Reason: reason}
		}
		return ValidationError{Reason: err.Error()}
	}
	date, err := lifecycle.ParseDay(in.Date)
	if err != nil {
		return ValidationError{Field: "incident_date", Reason: "must be a YYYY-MM-DD date"}
	}
	if date.After(lifecycle.Day(e.now())) {
		return ValidationError{Field: "incident_date", Reason: "must not be in the future"}
	}
	if in.AIAnalysis != "" && !json.Valid([]byte(in.AIAnalysis)) {
		return ValidationError{Field: "ai_analysis", Reason: "must be valid JSON"}
	}
	return nil
}

// ReportFor fills in the worker and team of a report made by reporter. The
// worker defaults to the reporter; naming anyone else needs
// incident.report_others. The team always comes from the worker's record and
// a conflicting team_id is rejected.
func (e Engine) ReportFor(ctx context.Context, reporter domain.User, in *SubmitIncidentInput) error {
	in.WorkerID = strings.TrimSpace(in.WorkerID)
	in.TeamID = strings.TrimSpace(in.TeamID)
	worker := reporter
	if in.WorkerID == "" {
		in.WorkerID = reporter.ID
	}
	if in.WorkerID != reporter.ID {
		if err := e.Auth.Require(ctx, reporter.ID, reporter.Role, auth.PermIncidentReport); err != nil {
			return err
		}
		u, err := e.Repo.GetUser(ctx, in.WorkerID)
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Field: "worker_id", Reason: "unknown worker"}
		}
		if err != nil {
			return persistence("load worker", err)
		}
		worker = u
	}
	if worker.TeamID == nil || *worker.TeamID == "" {
		return ValidationError{Field: "team_id", Reason: "worker has no team"}
	}
	if in.TeamID != "" && in.TeamID != *worker.TeamID {
		return ValidationError{Field: "team_id", Reason: "does not match the worker's team"}
	}
	in.TeamID = *worker.TeamID
	return nil
}

// SubmitIncident records a new incident awaiting team leader approval.
func (e Engine) SubmitIncident(ctx context.Context, in SubmitIncidentInput) (domain.Incident, error) {
	in.normalize()
	if err := e.validateSubmit(in); err != nil {
		return domain.Incident{}, err
	}
	now := timestamp(e.now())
	inc := domain.Incident{
		ID:             newID(),
		WorkerID:       in.WorkerID,
		TeamID:         in.TeamID,
		Type:           in.Type,
		IncidentDate:   in.Date,
		Description:    in.Description,
		Severity:       in.Severity,
		Location:       in.Location,
		PhotoRef:       optionalString(in.PhotoRef),
		AIAnalysisJSON: optionalString(in.AIAnalysis),
		ApprovalStatus: domain.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, persistence("begin submit", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIncidentTx(ctx, tx, inc); err != nil {
		return domain.Incident{}, persistence("submit incident", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.IncidentSubmitted, "incident", inc.ID, inc.WorkerID, events.EventPayload{
		"team_id":  inc.TeamID,
		"type":     inc.Type,
		"severity": inc.Severity,
	}); err != nil {
		return domain.Incident{}, persistence("submit incident", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, persistence("commit submit", err)
	}
	metrics.IncidentSubmitted(inc.Type, inc.Severity)
	e.log().WithFields(logrus.Fields{
		"incident_id": inc.ID,
		"worker_id":   inc.WorkerID,
		"team_id":     inc.TeamID,
	}).Info("incident submitted")
	return inc, nil
}
