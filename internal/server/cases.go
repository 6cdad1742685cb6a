package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/caseview"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/lifecycle"
)

// Case listing views.
const (
	viewWHS       = "whs"
	viewClinician = "clinician"
	viewWorker    = "worker"
	viewTeam      = "team"
)

func defaultView(role string) string {
	switch role {
	case domain.RoleWHS, domain.RoleAdmin:
		return viewWHS
	case domain.RoleClinician:
		return viewClinician
	case domain.RoleTeamLeader, domain.RoleSupervisor:
		return viewTeam
	default:
		return viewWorker
	}
}

type casePath struct {
	ID string `path:"id"`
}

func (h handlers) registerCases(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "case-summary",
		Method:      http.MethodGet,
		Path:        "/cases/summary",
		Summary:     "Organisation-wide case counts",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[caseview.Summary], error) {
		if _, err := h.caller(ctx, auth.PermCaseSummary); err != nil {
			return nil, h.respond(ctx, err)
		}
		sum, err := h.views.ExecutiveSummary(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(sum), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases for a role view",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		View     string `query:"view" enum:"whs,clinician,worker,team" doc:"Defaults by role"`
		Status   string `query:"status" doc:"Comma separated case statuses (clinician view)"`
		WorkerID string `query:"worker_id"`
		TeamID   string `query:"team_id"`
	}) (*output[CaseList], error) {
		u, err := h.caller(ctx, "")
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		view := input.View
		if view == "" {
			view = defaultView(u.Role)
		}
		items, err := h.listCases(ctx, u, view, input.Status, input.WorkerID, input.TeamID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(CaseList{View: view, Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get a case with its derived status",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *casePath) (*output[caseview.CaseView], error) {
		u, err := h.caller(ctx, "")
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		c, err := h.e.GetCase(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if err := h.e.CanViewCase(ctx, u, c); err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(h.views.Project(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-case-status",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/status",
		Summary:     "Move a case to its next lifecycle status",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AdvanceStatusRequest
	}) (*output[caseview.CaseView], error) {
		u, err := h.caller(ctx, auth.PermCaseAdvance)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		to, err := lifecycle.ParseStatus(strings.TrimSpace(input.Body.Status))
		if err != nil {
			return nil, h.fail(ctx, engine.ValidationError{Field: "status", Reason: err.Error()})
		}
		c, err := h.e.AdvanceCaseStatus(ctx, engine.AdvanceInput{
			CaseID:   input.ID,
			ActorID:  u.ID,
			To:       to,
			DutyType: input.Body.DutyType,
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(h.views.Project(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-clinical-notes",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/clinical-notes",
		Summary:     "Replace the clinical notes of a case",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ClinicalNotesRequest
	}) (*output[caseview.CaseView], error) {
		u, err := h.caller(ctx, auth.PermCaseNotes)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		c, err := h.e.UpdateClinicalNotes(ctx, input.ID, u.ID, input.Body.ClinicalNotes)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(h.views.Project(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/close",
		Summary:     "Close a case",
		Tags:        []string{"cases"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body *CloseCaseRequest `required:"false"`
	}) (*output[caseview.CaseView], error) {
		u, err := h.caller(ctx, auth.PermCaseClose)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		in := engine.CloseCaseInput{CaseID: input.ID, ActorID: u.ID}
		if input.Body != nil {
			in.EndDate = input.Body.EndDate
			in.DutyType = input.Body.DutyType
		}
		c, err := h.e.CloseCase(ctx, in)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(h.views.Project(c)), nil
	})
}

func (h handlers) listCases(ctx context.Context, u domain.User, view, statuses, workerID, teamID string) ([]caseview.CaseView, error) {
	need := func(perm string) error {
		return h.e.Auth.Require(ctx, u.ID, u.Role, perm)
	}
	can := func(perm string) bool {
		ok, err := h.e.Auth.Allowed(u.Role, perm)
		return err == nil && ok
	}
	switch view {
	case viewWHS:
		if err := need(auth.PermCaseRead); err != nil {
			return nil, err
		}
		return h.views.WHSQueue(ctx)
	case viewClinician:
		if err := need(auth.PermCaseRead); err != nil {
			return nil, err
		}
		var want []lifecycle.Status
		for _, raw := range strings.Split(statuses, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			s, err := lifecycle.ParseStatus(raw)
			if err != nil {
				return nil, engine.ValidationError{Field: "status", Reason: err.Error()}
			}
			want = append(want, s)
		}
		return h.views.ClinicianCases(ctx, want...)
	case viewWorker:
		workerID = strings.TrimSpace(workerID)
		if workerID == "" {
			workerID = u.ID
		}
		perm := auth.PermCaseReadOwn
		if workerID != u.ID {
			perm = auth.PermCaseRead
		}
		if err := need(perm); err != nil {
			return nil, err
		}
		return h.views.WorkerCases(ctx, workerID)
	case viewTeam:
		if !can(auth.PermCaseRead) {
			if err := need(auth.PermCaseReadTeam); err != nil {
				return nil, err
			}
		}
		teams, err := h.e.VisibleTeams(ctx, u)
		if err != nil {
			return nil, err
		}
		if teamID = strings.TrimSpace(teamID); teamID != "" {
			allowed := can(auth.PermCaseRead)
			for _, t := range teams {
				allowed = allowed || t == teamID
			}
			if !allowed {
				return nil, auth.ForbiddenError{Permission: auth.PermCaseReadTeam, Reason: "team " + teamID + " is not visible"}
			}
			teams = []string{teamID}
		}
		return h.views.TeamCases(ctx, teams...)
	default:
		return nil, engine.ValidationError{Field: "view", Reason: "must be one of: whs, clinician, worker, team"}
	}
}
