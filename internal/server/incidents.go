package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
)

// caller resolves the authenticated principal to a user holding perm.
func (h handlers) caller(ctx context.Context, perm string) (domain.User, error) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return domain.User{}, authErr
	}
	if perm == "" {
		return h.e.Actor(ctx, userID)
	}
	return h.e.Authorize(ctx, userID, perm)
}

// respond passes huma status errors through and maps everything else.
func (h handlers) respond(ctx context.Context, err error) error {
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	return h.fail(ctx, err)
}

type incidentPath struct {
	ID string `path:"id"`
}

func (h handlers) registerIncidents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Report an incident",
		Tags:          []string{"incidents"},
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitIncidentRequest
	}) (*output[SubmitIncidentResponse], error) {
		u, err := h.caller(ctx, auth.PermIncidentSubmit)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		in := engine.SubmitIncidentInput{
			WorkerID:    input.Body.WorkerID,
			TeamID:      input.Body.TeamID,
			Type:        input.Body.Type,
			Date:        input.Body.Date,
			Description: input.Body.Description,
			Severity:    input.Body.Severity,
			Location:    input.Body.Location,
			PhotoRef:    input.Body.PhotoRef,
			AIAnalysis:  input.Body.AIAnalysis,
		}
		if err := h.e.ReportFor(ctx, u, &in); err != nil {
			return nil, h.fail(ctx, err)
		}
		inc, err := h.e.SubmitIncident(ctx, in)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		warnings := h.notifier.ApprovalNeeded(ctx, inc)
		return reply(SubmitIncidentResponse{Incident: inc, Warnings: mergeWarnings(warnings)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-incidents",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/incidents/pending",
		Summary:     "Incidents awaiting a decision, oldest first",
		Tags:        []string{"incidents"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*output[IncidentList], error) {
		u, err := h.caller(ctx, auth.PermIncidentRead)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		if u.Role == domain.RoleTeamLeader && (u.TeamID == nil || *u.TeamID != input.TeamID) {
			return nil, h.fail(ctx, auth.ForbiddenError{Permission: auth.PermIncidentRead, Reason: "another team's queue"})
		}
		items, err := h.views.PendingIncidents(ctx, input.TeamID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(IncidentList{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}",
		Summary:     "Get an incident",
		Tags:        []string{"incidents"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *incidentPath) (*output[domain.Incident], error) {
		u, err := h.caller(ctx, "")
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		inc, err := h.e.GetIncident(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if err := h.e.CanViewIncident(ctx, u, inc); err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(inc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{id}/approve",
		Summary:     "Approve an incident and open its case",
		Tags:        []string{"incidents"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body *ApproveRequest `required:"false"`
	}) (*output[ApproveResponse], error) {
		u, inc, err := h.decider(ctx, input.ID)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		notes := ""
		if input.Body != nil {
			notes = input.Body.Notes
		}
		res, err := h.e.Approve(ctx, inc.ID, u.ID, notes)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		sent := h.notifier.IncidentApproved(ctx, res.Incident, res.Case, u.ID)
		return reply(ApproveResponse{
			Incident: res.Incident,
			Case:     h.views.Project(res.Case),
			Warnings: mergeWarnings(res.Warnings, sent),
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{id}/reject",
		Summary:     "Reject an incident",
		Tags:        []string{"incidents"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RejectRequest
	}) (*output[RejectResponse], error) {
		u, inc, err := h.decider(ctx, input.ID)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		rejected, err := h.e.Reject(ctx, inc.ID, u.ID, input.Body.Reason)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		sent := h.notifier.IncidentRejected(ctx, rejected, u.ID)
		return reply(RejectResponse{Incident: rejected, Warnings: mergeWarnings(sent)}), nil
	})
}

// decider loads the incident and checks the caller may decide it.
func (h handlers) decider(ctx context.Context, incidentID string) (domain.User, domain.Incident, error) {
	u, err := h.caller(ctx, auth.PermIncidentDecide)
	if err != nil {
		return u, domain.Incident{}, err
	}
	inc, err := h.e.GetIncident(ctx, incidentID)
	if err != nil {
		return u, inc, err
	}
	return u, inc, h.e.CanDecide(ctx, u, inc)
}
