// Package caseview is the read side of cases. Every role listing derives
// status and activity through Service so the lifecycle policy is applied in
// one place.
package caseview

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/repo"
)

type Service struct {
	Repo          repo.Repo
	Now           func() time.Time
	NewCaseWindow time.Duration
}

// CaseView is a case as every consumer renders it.
type CaseView struct {
	ID            string  `json:"id"`
	WorkerID      string  `json:"worker_id"`
	TeamID        string  `json:"team_id"`
	IncidentID    string  `json:"incident_id"`
	ExceptionType string  `json:"exception_type"`
	Reason        string  `json:"reason"`
	StartDate     string  `json:"start_date" format:"date"`
	EndDate       *string `json:"end_date,omitempty" format:"date"`
	DutyType      *string `json:"duty_type,omitempty"`
	IsActiveFlag  bool    `json:"is_active_flag"`

	Active        bool             `json:"active"`
	DisplayStatus lifecycle.Label  `json:"display_status"`
	CaseStatus    lifecycle.Status `json:"case_status"`
	// StatusStored is false when the notes carry no readable status and
	// CaseStatus is the new default.
	StatusStored           bool       `json:"status_stored"`
	ApprovedBy             *string    `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty"`
	ClinicalNotes          *string    `json:"clinical_notes,omitempty"`
	ClinicalNotesUpdatedAt *time.Time `json:"clinical_notes_updated_at,omitempty"`

	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) window() time.Duration {
	if s.NewCaseWindow <= 0 {
		return lifecycle.DefaultNewCaseWindow
	}
	return s.NewCaseWindow
}

// caseDates parses the case's calendar range. An unreadable end date is
// treated as open-ended; an unreadable start date makes the range unusable.
func caseDates(c domain.Case) (time.Time, *time.Time, bool) {
	start, err := lifecycle.ParseDay(c.StartDate)
	if err != nil {
		return time.Time{}, nil, false
	}
	var end *time.Time
	if c.EndDate != nil {
		if d, err := lifecycle.ParseDay(*c.EndDate); err == nil {
			end = &d
		}
	}
	return start, end, true
}

func isActive(p lifecycle.Payload, c domain.Case, today time.Time) bool {
	start, end, ok := caseDates(c)
	if !ok {
		return lifecycle.IsActiveUndated(p.CaseStatus, c.IsActive)
	}
	return lifecycle.IsCurrentlyActive(p.CaseStatus, c.IsActive, today, start, end)
}

func (s Service) display(p lifecycle.Payload, c domain.Case, now time.Time) lifecycle.Label {
	start, end, ok := caseDates(c)
	age := s.window()
	if created, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
		age = now.Sub(created)
	}
	return lifecycle.DisplayStatus(lifecycle.DisplayInput{
		Status:          p.CaseStatus,
		IsActiveFlag:    c.IsActive,
		WithinDateRange: ok && lifecycle.WithinDateRange(now, start, end),
		Age:             age,
		NewCaseWindow:   s.window(),
	})
}

// DisplayStatus is the label shown for c right now.
func (s Service) DisplayStatus(c domain.Case) lifecycle.Label {
	p, _ := lifecycle.Decode(c.NotesText())
	return s.display(p, c, s.now())
}

// IsActive reports whether c exempts its worker on today.
func (s Service) IsActive(c domain.Case, today time.Time) bool {
	p, _ := lifecycle.Decode(c.NotesText())
	return isActive(p, c, today)
}

// Project renders c with its derived status and decoded payload fields.
func (s Service) Project(c domain.Case) CaseView {
	now := s.now()
	p, _ := lifecycle.Decode(c.NotesText())
	return CaseView{
		ID:                     c.ID,
		WorkerID:               c.WorkerID,
		TeamID:                 c.TeamID,
		IncidentID:             c.IncidentID,
		ExceptionType:          c.ExceptionType,
		Reason:                 c.Reason,
		StartDate:              c.StartDate,
		EndDate:                c.EndDate,
		DutyType:               c.DutyType,
		IsActiveFlag:           c.IsActive,
		Active:                 isActive(p, c, now),
		DisplayStatus:          s.display(p, c, now),
		CaseStatus:             p.StatusOr(lifecycle.StatusNew),
		StatusStored:           p.CaseStatus != nil,
		ApprovedBy:             p.ApprovedBy,
		ApprovedAt:             p.ApprovedAt,
		ClinicalNotes:          p.ClinicalNotes,
		ClinicalNotesUpdatedAt: p.ClinicalNotesUpdatedAt,
		CreatedBy:              c.CreatedBy,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func (s Service) projectAll(cases []domain.Case, keep func(CaseView) bool) []CaseView {
	res := make([]CaseView, 0, len(cases))
	for _, c := range cases {
		v := s.Project(c)
		if keep == nil || keep(v) {
			res = append(res, v)
		}
	}
	return res
}

// GetCase loads and projects one case.
func (s Service) GetCase(ctx context.Context, id string) (CaseView, error) {
	c, err := s.Repo.GetCase(ctx, id)
	if err != nil {
		return CaseView{}, err
	}
	return s.Project(c), nil
}

// WHSQueue lists every currently active case across all teams.
func (s Service) WHSQueue(ctx context.Context) ([]CaseView, error) {
	cases, err := s.Repo.ListCases(ctx, repo.CaseFilters{ActiveOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "whs queue")
	}
	return s.projectAll(cases, func(v CaseView) bool { return v.Active }), nil
}

// ClinicianCases lists flagged-active cases in the given statuses; with no
// statuses, every status that is not completed.
func (s Service) ClinicianCases(ctx context.Context, statuses ...lifecycle.Status) ([]CaseView, error) {
	cases, err := s.Repo.ListCases(ctx, repo.CaseFilters{ActiveOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "clinician cases")
	}
	want := map[lifecycle.Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	return s.projectAll(cases, func(v CaseView) bool {
		if len(want) == 0 {
			return !v.CaseStatus.IsCompleted()
		}
		return want[v.CaseStatus]
	}), nil
}

// WorkerCases lists a worker's own cases.
func (s Service) WorkerCases(ctx context.Context, workerID string) ([]CaseView, error) {
	cases, err := s.Repo.ListCases(ctx, repo.CaseFilters{WorkerID: workerID})
	if err != nil {
		return nil, errors.Wrap(err, "worker cases")
	}
	return s.projectAll(cases, nil), nil
}

// TeamCases lists the cases of the given teams.
func (s Service) TeamCases(ctx context.Context, teamIDs ...string) ([]CaseView, error) {
	if len(teamIDs) == 0 {
		return []CaseView{}, nil
	}
	cases, err := s.Repo.ListCases(ctx, repo.CaseFilters{TeamIDs: teamIDs})
	if err != nil {
		return nil, errors.Wrap(err, "team cases")
	}
	return s.projectAll(cases, nil), nil
}

type TeamSummary struct {
	TeamID    string `json:"team_id"`
	Total     int    `json:"total"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
}

type Summary struct {
	Total     int                     `json:"total"`
	Active    int                     `json:"active"`
	Completed int                     `json:"completed"`
	ByLabel   map[lifecycle.Label]int `json:"by_label"`
	Teams     []TeamSummary           `json:"teams"`
}

func completed(v CaseView) bool {
	return v.CaseStatus.IsCompleted() || v.DisplayStatus == lifecycle.LabelClosed
}

// ExecutiveSummary counts every case by display label and by team. ByLabel
// always carries every label, zero or not.
func (s Service) ExecutiveSummary(ctx context.Context) (Summary, error) {
	cases, err := s.Repo.ListCases(ctx, repo.CaseFilters{})
	if err != nil {
		return Summary{}, errors.Wrap(err, "executive summary")
	}
	sum := Summary{ByLabel: make(map[lifecycle.Label]int, len(lifecycle.Labels))}
	for _, l := range lifecycle.Labels {
		sum.ByLabel[l] = 0
	}
	teams := map[string]*TeamSummary{}
	for _, v := range s.projectAll(cases, nil) {
		ts, ok := teams[v.TeamID]
		if !ok {
			ts = &TeamSummary{TeamID: v.TeamID}
			teams[v.TeamID] = ts
		}
		sum.Total++
		ts.Total++
		sum.ByLabel[v.DisplayStatus]++
		if v.Active {
			sum.Active++
			ts.Active++
		}
		if completed(v) {
			sum.Completed++
			ts.Completed++
		}
	}
	sum.Teams = make([]TeamSummary, 0, len(teams))
	for _, ts := range teams {
		sum.Teams = append(sum.Teams, *ts)
	}
	sort.Slice(sum.Teams, func(i, j int) bool { return sum.Teams[i].TeamID < sum.Teams[j].TeamID })
	return sum, nil
}

// PendingIncidents is a team leader's approval queue, oldest first.
func (s Service) PendingIncidents(ctx context.Context, teamID string) ([]domain.Incident, error) {
	list, err := s.Repo.ListIncidents(ctx, repo.IncidentFilters{TeamID: teamID, Status: domain.ApprovalPending})
	if err != nil {
		return nil, errors.Wrap(err, "pending incidents")
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	if list == nil {
		list = []domain.Incident{}
	}
	return list, nil
}
