package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Incident struct {
	ID              string  `json:"id"`
	WorkerID        string  `json:"worker_id"`
	TeamID          string  `json:"team_id"`
	Type            string  `json:"incident_type"`
	Date            string  `json:"incident_date"`
	Description     string  `json:"description"`
	Severity        string  `json:"severity"`
	Location        string  `json:"location,omitempty"`
	ApprovalStatus  string  `json:"approval_status"`
	ApprovedBy      *string `json:"approved_by,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	CaseID          *string `json:"case_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// NewIncident is the submission payload; empty fields are omitted.
type NewIncident struct {
	WorkerID    string `json:"worker_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	Type        string `json:"incident_type"`
	Date        string `json:"incident_date"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Location    string `json:"location,omitempty"`
	PhotoRef    string `json:"photo_ref,omitempty"`
	AIAnalysis  string `json:"ai_analysis,omitempty"`
}

// Case is a case with its derived display status.
type Case struct {
	ID            string  `json:"id"`
	WorkerID      string  `json:"worker_id"`
	TeamID        string  `json:"team_id"`
	IncidentID    string  `json:"incident_id"`
	ExceptionType string  `json:"exception_type"`
	StartDate     string  `json:"start_date"`
	EndDate       *string `json:"end_date,omitempty"`
	DutyType      *string `json:"duty_type,omitempty"`
	Active        bool    `json:"active"`
	DisplayStatus string  `json:"display_status"`
	CaseStatus    string  `json:"case_status"`
	ClinicalNotes *string `json:"clinical_notes,omitempty"`
}

type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Submission struct {
	Incident Incident  `json:"incident"`
	Warnings []Warning `json:"warnings"`
}

type Decision struct {
	Incident Incident  `json:"incident"`
	Case     *Case     `json:"case,omitempty"`
	Warnings []Warning `json:"warnings"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	env := gjson.GetBytes(body, "error")
	if !env.IsObject() {
		return e
	}
	e.Code = env.Get("code").String()
	e.Message = env.Get("message").String()
	if details, ok := env.Get("details").Value().(map[string]any); ok {
		e.Details = details
	}
	return e
}

// SubmitIncident reports an incident as the authenticated user.
func (c *Client) SubmitIncident(ctx context.Context, in NewIncident) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "incidents", in, &resp)
	return resp, err
}

// PendingIncidents lists a team's incidents awaiting a decision.
func (c *Client) PendingIncidents(ctx context.Context, teamID string) ([]Incident, error) {
	var resp struct {
		Items []Incident `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("teams/%s/incidents/pending", url.PathEscape(teamID)), nil, &resp)
	return resp.Items, err
}

// Approve approves an incident and returns the case it opened.
func (c *Client) Approve(ctx context.Context, incidentID, notes string) (Decision, error) {
	var resp Decision
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("incidents/%s/approve", url.PathEscape(incidentID)), body, &resp)
	return resp, err
}

// Reject rejects an incident with a reason.
func (c *Client) Reject(ctx context.Context, incidentID, reason string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("incidents/%s/reject", url.PathEscape(incidentID)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// GetCase fetches a case.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AdvanceCase moves a case to status; dutyType may be empty.
func (c *Client) AdvanceCase(ctx context.Context, id, status, dutyType string) (Case, error) {
	body := map[string]any{"status": status}
	if dutyType != "" {
		body["duty_type"] = dutyType
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/status", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
