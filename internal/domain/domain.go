package domain

const (
	ApprovalPending  = "pending_approval"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// DateLayout is the calendar-date layout used for incident, start and end dates.
const DateLayout = "2006-01-02"

type Incident struct {
	ID              string  `json:"id"`
	WorkerID        string  `json:"worker_id"`
	TeamID          string  `json:"team_id"`
	Type            string  `json:"incident_type" enum:"injury,incident,near_miss,illness,property_damage"`
	IncidentDate    string  `json:"incident_date" format:"date"`
	Description     string  `json:"description"`
	Severity        string  `json:"severity" enum:"low,medium,high,critical"`
	Location        string  `json:"location,omitempty"`
	PhotoRef        *string `json:"photo_ref,omitempty"`
	AIAnalysisJSON  *string `json:"ai_analysis_json,omitempty"`
	ApprovalStatus  string  `json:"approval_status" enum:"pending_approval,approved,rejected"`
	ApprovedBy      *string `json:"approved_by,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty" format:"date-time"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	CaseID          *string `json:"case_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Pending reports whether the incident still awaits a decision.
func (i Incident) Pending() bool {
	return i.ApprovalStatus == ApprovalPending
}

// Case is stored as a worker exception.
type Case struct {
	ID            string  `json:"id"`
	WorkerID      string  `json:"worker_id"`
	TeamID        string  `json:"team_id"`
	ExceptionType string  `json:"exception_type"`
	Reason        string  `json:"reason"`
	StartDate     string  `json:"start_date" format:"date"`
	EndDate       *string `json:"end_date,omitempty" format:"date"`
	IsActive      bool    `json:"is_active"`
	DutyType      *string `json:"duty_type,omitempty" enum:"full,modified,none"`
	IncidentID    string  `json:"incident_id"`
	CreatedBy     string  `json:"created_by"`
	Notes         *string `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// NotesText returns the raw notes field, empty when unset.
func (c Case) NotesText() string {
	if c.Notes == nil {
		return ""
	}
	return *c.Notes
}

type WorkerSchedule struct {
	ID                string  `json:"id"`
	WorkerID          string  `json:"worker_id"`
	TeamID            string  `json:"team_id"`
	StartsOn          string  `json:"starts_on" format:"date"`
	EndsOn            *string `json:"ends_on,omitempty" format:"date"`
	IsActive          bool    `json:"is_active"`
	DeactivatedAt     *string `json:"deactivated_at,omitempty" format:"date-time"`
	DeactivatedReason *string `json:"deactivated_reason,omitempty"`
}

const (
	RoleWorker     = "worker"
	RoleTeamLeader = "team_leader"
	RoleSupervisor = "supervisor"
	RoleWHS        = "whs"
	RoleClinician  = "clinician"
	RoleExecutive  = "executive"
	RoleAdmin      = "admin"
)

type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Role         string  `json:"role" enum:"worker,team_leader,supervisor,whs,clinician,executive,admin"`
	TeamID       *string `json:"team_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// DisplayName falls back to the id when no name is recorded.
func (u User) DisplayName() string {
	if u.Name == "" {
		return u.ID
	}
	return u.Name
}

type Notification struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	Kind        string  `json:"kind"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	PayloadJSON string  `json:"payload_json,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
