package server

import (
	"caseline/internal/caseview"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

// Request payloads

type SubmitIncidentRequest struct {
	WorkerID    string `json:"worker_id,omitempty" doc:"Defaults to the caller"`
	TeamID      string `json:"team_id,omitempty" doc:"Defaults to the worker's team"`
	Type        string `json:"incident_type,omitempty" example:"injury"`
	Date        string `json:"incident_date,omitempty" example:"2025-01-10"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty" example:"medium"`
	Location    string `json:"location,omitempty"`
	PhotoRef    string `json:"photo_ref,omitempty"`
	AIAnalysis  string `json:"ai_analysis,omitempty" doc:"Raw JSON document"`
}

type ApproveRequest struct {
	Notes string `json:"notes,omitempty" doc:"Initial clinical notes for the new case"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AdvanceStatusRequest struct {
	Status   string `json:"status,omitempty" example:"triaged"`
	DutyType string `json:"duty_type,omitempty" example:"modified"`
}

type ClinicalNotesRequest struct {
	ClinicalNotes string `json:"clinical_notes,omitempty"`
}

type CloseCaseRequest struct {
	EndDate  string `json:"end_date,omitempty" example:"2025-02-01"`
	DutyType string `json:"duty_type,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type SubmitIncidentResponse struct {
	Incident domain.Incident  `json:"incident"`
	Warnings []engine.Warning `json:"warnings"`
}

type ApproveResponse struct {
	Incident domain.Incident   `json:"incident"`
	Case     caseview.CaseView `json:"case"`
	Warnings []engine.Warning  `json:"warnings"`
}

type RejectResponse struct {
	Incident domain.Incident  `json:"incident"`
	Warnings []engine.Warning `json:"warnings"`
}

type IncidentList struct {
	Items []domain.Incident `json:"items"`
}

type CaseList struct {
	View  string              `json:"view"`
	Items []caseview.CaseView `json:"items"`
}

type MeResponse struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
	Teams       []string    `json:"teams"`
	AuthSource  string      `json:"auth_source"`
}

type NotificationList struct {
	Items []domain.Notification `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventPage struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func mergeWarnings(lists ...[]engine.Warning) []engine.Warning {
	out := []engine.Warning{}
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
