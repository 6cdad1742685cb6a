package engine_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/lifecycle"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

var fixedNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	DB     *sql.DB
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng, err := engine.New(conn, config.Default(), nil)
	require.NoError(t, err)
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "w1", Name: "Wendy Worker", Role: domain.RoleWorker, TeamID: ptr("t1"), SupervisorID: ptr("s1")},
		{ID: "w2", Name: "Walt Worker", Role: domain.RoleWorker, TeamID: ptr("t2")},
		{ID: "tl1", Name: "Tara Lead", Role: domain.RoleTeamLeader, TeamID: ptr("t1")},
		{ID: "tl2", Name: "Tom Lead", Role: domain.RoleTeamLeader, TeamID: ptr("t2")},
		{ID: "s1", Name: "Sam Super", Role: domain.RoleSupervisor, TeamID: ptr("t1")},
		{ID: "c1", Name: "Cleo Clinician", Role: domain.RoleClinician},
	} {
		u.CreatedAt = fixedNow.Format(time.RFC3339)
		require.NoError(t, eng.Repo.UpsertUser(ctx, u))
	}
	return testEnv{Engine: eng, DB: conn, Ctx: ctx}
}

func ptr[T any](v T) *T { return &v }

func (env testEnv) submit(t *testing.T, incidentType string) domain.Incident {
	t.Helper()
	inc, err := env.Engine.SubmitIncident(env.Ctx, engine.SubmitIncidentInput{
		WorkerID:    "w1",
		TeamID:      "t1",
		Type:        incidentType,
		Date:        "2025-01-10",
		Description: "Slipped on wet floor in loading bay",
		Severity:    "medium",
		Location:    "Warehouse B",
	})
	require.NoError(t, err)
	return inc
}

func (env testEnv) approve(t *testing.T, incidentID string) engine.ApprovalResult {
	t.Helper()
	res, err := env.Engine.Approve(env.Ctx, incidentID, "tl1", "")
	require.NoError(t, err)
	return res
}

func TestSubmitIncidentValidation(t *testing.T) {
	env := newTestEnv(t)
	valid := engine.SubmitIncidentInput{
		WorkerID: "w1", TeamID: "t1", Type: "injury", Date: "2025-01-10",
		Description: "Cut hand", Severity: "low",
	}
	tests := []struct {
		name  string
		edit  func(*engine.SubmitIncidentInput)
		field string
	}{
		{"missing worker", func(in *engine.SubmitIncidentInput) { in.WorkerID = " " }, "worker_id"},
		{"missing description", func(in *engine.SubmitIncidentInput) { in.Description = "" }, "description"},
		{"unknown type", func(in *engine.SubmitIncidentInput) { in.Type = "explosion" }, "incident_type"},
		{"unknown severity", func(in *engine.SubmitIncidentInput) { in.Severity = "extreme" }, "severity"},
		{"bad date", func(in *engine.SubmitIncidentInput) { in.Date = "10/01/2025" }, "incident_date"},
		{"future date", func(in *engine.SubmitIncidentInput) { in.Date = "2025-01-16" }, "incident_date"},
		{"bad analysis", func(in *engine.SubmitIncidentInput) { in.AIAnalysis = "{not json" }, "ai_analysis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)
			_, err := env.Engine.SubmitIncident(env.Ctx, in)
			var verr engine.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
		})
	}
	list, err := env.Engine.Repo.ListIncidents(env.Ctx, repo.IncidentFilters{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestReportForDerivesTeamFromWorker(t *testing.T) {
	env := newTestEnv(t)
	user := func(id string) domain.User {
		u, err := env.Engine.Repo.GetUser(env.Ctx, id)
		require.NoError(t, err)
		return u
	}

	in := engine.SubmitIncidentInput{}
	require.NoError(t, env.Engine.ReportFor(env.Ctx, user("w1"), &in))
	require.Equal(t, "w1", in.WorkerID)
	require.Equal(t, "t1", in.TeamID)

	in = engine.SubmitIncidentInput{TeamID: "t2"}
	var verr engine.ValidationError
	require.ErrorAs(t, env.Engine.ReportFor(env.Ctx, user("w1"), &in), &verr)
	require.Equal(t, "team_id", verr.Field)

	// a worker may not report for someone else
	in = engine.SubmitIncidentInput{WorkerID: "w2"}
	var ferr auth.ForbiddenError
	require.ErrorAs(t, env.Engine.ReportFor(env.Ctx, user("w1"), &in), &ferr)
	require.Equal(t, auth.PermIncidentReport, ferr.Permission)

	// a supervisor can read incidents but not report them for others
	in = engine.SubmitIncidentInput{WorkerID: "w1"}
	require.ErrorAs(t, env.Engine.ReportFor(env.Ctx, user("s1"), &in), &ferr)

	in = engine.SubmitIncidentInput{WorkerID: "w2"}
	require.NoError(t, env.Engine.ReportFor(env.Ctx, user("tl1"), &in))
	require.Equal(t, "t2", in.TeamID)

	in = engine.SubmitIncidentInput{WorkerID: "ghost"}
	require.ErrorAs(t, env.Engine.ReportFor(env.Ctx, user("tl1"), &in), &verr)
	require.Equal(t, "worker_id", verr.Field)

	in = engine.SubmitIncidentInput{WorkerID: "c1"}
	require.ErrorAs(t, env.Engine.ReportFor(env.Ctx, user("tl1"), &in), &verr)
	require.Equal(t, "team_id", verr.Field)
}

func TestSubmitIncidentRecordsPending(t *testing.T) {
	env := newTestEnv(t)
	inc, err := env.Engine.SubmitIncident(env.Ctx, engine.SubmitIncidentInput{
		WorkerID: "w1", TeamID: "t1", Type: "near_miss", Date: "2025-01-15",
		Description: "Forklift reversed without alarm", Severity: "high",
		PhotoRef: "photos/abc.jpg", AIAnalysis: `{"hazard":"forklift"}`,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalPending, inc.ApprovalStatus)

	stored, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, "photos/abc.jpg", *stored.PhotoRef)
	require.JSONEq(t, `{"hazard":"forklift"}`, *stored.AIAnalysisJSON)
	require.Nil(t, stored.ApprovedBy)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityKind: "incident", EntityID: inc.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, events.IncidentSubmitted, evts[0].Type)
}

func TestInjuryScenario(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "injury")

	res := env.approve(t, inc.ID)
	require.Empty(t, res.Warnings)
	require.Equal(t, domain.ApprovalApproved, res.Incident.ApprovalStatus)
	require.Equal(t, "tl1", *res.Incident.ApprovedBy)
	require.Equal(t, res.Case.ID, *res.Incident.CaseID)

	c, err := env.Engine.GetCase(env.Ctx, res.Case.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-01-10", c.StartDate)
	require.Nil(t, c.EndDate)
	require.True(t, c.IsActive)
	require.Equal(t, "other", c.ExceptionType)
	require.Equal(t, "tl1", c.CreatedBy)
	require.Equal(t, inc.ID, c.IncidentID)
	require.Equal(t, lifecycle.StatusNew, lifecycle.StatusOf(c.NotesText()))
	p, ok := lifecycle.Decode(c.NotesText())
	require.True(t, ok)
	require.Equal(t, "tl1", *p.ApprovedBy)
	require.True(t, fixedNow.Equal(*p.ApprovedAt))
	require.Nil(t, p.ClinicalNotes)

	stored, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalApproved, stored.ApprovalStatus)

	_, err = env.Engine.Approve(env.Ctx, inc.ID, "tl1", "")
	var ap engine.AlreadyProcessedError
	require.ErrorAs(t, err, &ap)
	require.Equal(t, domain.ApprovalApproved, ap.Current)
	require.Equal(t, "tl1", ap.DecidedBy)

	_, err = env.Engine.Reject(env.Ctx, inc.ID, "tl1", "duplicate")
	require.ErrorAs(t, err, &ap)

	after, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, stored, after)
	cases, err := env.Engine.Repo.ListCases(env.Ctx, repo.CaseFilters{WorkerID: "w1"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
}

func TestApproveMapsIncidentCategoryToAccident(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "incident")
	res, err := env.Engine.Approve(env.Ctx, inc.ID, "tl1", "Initial assessment booked")
	require.NoError(t, err)
	require.Equal(t, "accident", res.Case.ExceptionType)
	require.Equal(t, "Incident: Slipped on wet floor in loading bay", res.Case.Reason)
	p, _ := lifecycle.Decode(res.Case.NotesText())
	require.Equal(t, "Initial assessment booked", *p.ClinicalNotes)
}

func TestApproveIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "injury")
	_, err := env.DB.Exec(`CREATE TRIGGER fail_case_insert BEFORE INSERT ON worker_exceptions
BEGIN SELECT RAISE(ABORT, 'simulated store failure'); END;`)
	require.NoError(t, err)

	_, err = env.Engine.Approve(env.Ctx, inc.ID, "tl1", "")
	var perr engine.PersistenceError
	require.ErrorAs(t, err, &perr)

	stored, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalPending, stored.ApprovalStatus)
	require.Nil(t, stored.ApprovedBy)
	require.Nil(t, stored.CaseID)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.IncidentApproved})
	require.NoError(t, err)
	require.Empty(t, evts)

	_, err = env.DB.Exec(`DROP TRIGGER fail_case_insert`)
	require.NoError(t, err)
	res := env.approve(t, inc.ID)
	require.Equal(t, domain.ApprovalApproved, res.Incident.ApprovalStatus)
}

func TestApproveDeactivatesWorkerSchedules(t *testing.T) {
	env := newTestEnv(t)
	for _, s := range []domain.WorkerSchedule{
		{ID: "s-1", WorkerID: "w1", TeamID: "t1", StartsOn: "2025-01-01", IsActive: true},
		{ID: "s-2", WorkerID: "w1", TeamID: "t1", StartsOn: "2024-06-01", IsActive: false},
		{ID: "s-3", WorkerID: "w2", TeamID: "t2", StartsOn: "2025-01-01", IsActive: true},
	} {
		require.NoError(t, env.Engine.Repo.InsertSchedule(env.Ctx, s))
	}
	inc := env.submit(t, "injury")
	res := env.approve(t, inc.ID)
	require.Empty(t, res.Warnings)

	mine, err := env.Engine.Repo.ListSchedules(env.Ctx, "w1")
	require.NoError(t, err)
	for _, s := range mine {
		require.False(t, s.IsActive, s.ID)
	}
	other, err := env.Engine.Repo.ListSchedules(env.Ctx, "w2")
	require.NoError(t, err)
	require.True(t, other[0].IsActive)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.ScheduleDeactivated})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, "w1", evts[0].EntityID)
}

func TestScheduleFailureIsOnlyAWarning(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.Repo.InsertSchedule(env.Ctx, domain.WorkerSchedule{
		ID: "s-1", WorkerID: "w1", TeamID: "t1", StartsOn: "2025-01-01", IsActive: true,
	}))
	_, err := env.DB.Exec(`CREATE TRIGGER fail_schedule_update BEFORE UPDATE ON worker_schedules
BEGIN SELECT RAISE(ABORT, 'schedule service down'); END;`)
	require.NoError(t, err)

	inc := env.submit(t, "injury")
	res, err := env.Engine.Approve(env.Ctx, inc.ID, "tl1", "")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, engine.WarningScheduleDeactivation, res.Warnings[0].Kind)

	stored, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalApproved, stored.ApprovalStatus)
	_, err = env.Engine.Repo.GetCaseByIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "injury")
	for _, reason := range []string{"", "   \n"} {
		_, err := env.Engine.Reject(env.Ctx, inc.ID, "tl1", reason)
		var verr engine.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "reason", verr.Field)
	}
	stored, err := env.Engine.GetIncident(env.Ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalPending, stored.ApprovalStatus)
	require.Nil(t, stored.RejectionReason)
	require.Nil(t, stored.ApprovedBy)
}

func TestRejectRecordsDecision(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "illness")
	rejected, err := env.Engine.Reject(env.Ctx, inc.ID, "tl1", "  Not work related ")
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalRejected, rejected.ApprovalStatus)
	require.Equal(t, "Not work related", *rejected.RejectionReason)
	require.Equal(t, "tl1", *rejected.ApprovedBy)
	require.NotNil(t, rejected.ApprovedAt)
	require.Nil(t, rejected.CaseID)

	_, err = env.Engine.Repo.GetCaseByIncident(env.Ctx, inc.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.Approve(env.Ctx, inc.ID, "tl1", "")
	var ap engine.AlreadyProcessedError
	require.ErrorAs(t, err, &ap)
	require.Equal(t, domain.ApprovalRejected, ap.Current)
}

func TestDecisionOnMissingIncident(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Approve(env.Ctx, "nope", "tl1", "")
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.True(t, errors.Is(err, repo.ErrNotFound))

	_, err = env.Engine.Reject(env.Ctx, "nope", "tl1", "reason")
	require.ErrorAs(t, err, &nf)
}

func TestConcurrentDecisionsSucceedOnce(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "injury")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		processed int
		other     []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = env.Engine.Approve(env.Ctx, inc.ID, "tl1", "")
			} else {
				_, err = env.Engine.Reject(env.Ctx, inc.ID, "tl1", "not an injury")
			}
			mu.Lock()
			defer mu.Unlock()
			var ap engine.AlreadyProcessedError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &ap):
				processed++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, other)
	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, processed)

	cases, err := env.Engine.Repo.ListCases(env.Ctx, repo.CaseFilters{WorkerID: "w1"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(cases), 1)
}

func TestAdvanceCaseStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.approve(t, env.submit(t, "injury").ID).Case

	c, err := env.Engine.UpdateClinicalNotes(env.Ctx, c.ID, "c1", "Physio twice weekly")
	require.NoError(t, err)
	c, err = env.Engine.AdvanceCaseStatus(env.Ctx, engine.AdvanceInput{CaseID: c.ID, ActorID: "c1", To: lifecycle.StatusTriaged})
	require.NoError(t, err)

	_, err = env.Engine.AdvanceCaseStatus(env.Ctx, engine.AdvanceInput{CaseID: c.ID, ActorID: "c1", To: lifecycle.StatusInRehab})
	var invalid engine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, lifecycle.StatusTriaged, invalid.From)

	for _, to := range []lifecycle.Status{lifecycle.StatusAssessed, lifecycle.StatusInRehab, lifecycle.StatusReturnToWork} {
		c, err = env.Engine.AdvanceCaseStatus(env.Ctx, engine.AdvanceInput{CaseID: c.ID, ActorID: "c1", To: to})
		require.NoError(t, err)
	}
	stored, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	p, _ := lifecycle.Decode(stored.NotesText())
	require.Equal(t, lifecycle.StatusReturnToWork, *p.CaseStatus)
	require.Equal(t, "Physio twice weekly", *p.ClinicalNotes)
	require.Equal(t, "tl1", *p.ApprovedBy)
	require.Equal(t, engine.DutyModified, *stored.DutyType)
	require.Equal(t, "2025-01-15", *stored.EndDate)
	require.True(t, stored.IsActive)

	closed, err := env.Engine.AdvanceCaseStatus(env.Ctx, engine.AdvanceInput{CaseID: c.ID, ActorID: "c1", To: lifecycle.StatusClosed})
	require.NoError(t, err)
	require.False(t, closed.IsActive)

	_, err = env.Engine.AdvanceCaseStatus(env.Ctx, engine.AdvanceInput{CaseID: c.ID, ActorID: "c1", To: lifecycle.StatusTriaged})
	require.ErrorAs(t, err, &invalid)
}

func TestCaseUpdatesKeepForeignNotes(t *testing.T) {
	env := newTestEnv(t)
	c := env.approve(t, env.submit(t, "injury").ID).Case
	merged, err := sjson.Set(c.NotesText(), "whs.owner", "whs-7")
	require.NoError(t, err)
	_, err = env.DB.Exec(`UPDATE worker_exceptions SET notes=? WHERE id=?`, merged, c.ID)
	require.NoError(t, err)

	updated, err := env.Engine.UpdateClinicalNotes(env.Ctx, c.ID, "c1", "Cleared for light duties")
	require.NoError(t, err)
	require.Equal(t, "whs-7", gjson.Get(updated.NotesText(), "whs.owner").String())
	p, _ := lifecycle.Decode(updated.NotesText())
	require.Equal(t, "Cleared for light duties", *p.ClinicalNotes)
	require.True(t, fixedNow.Equal(*p.ClinicalNotesUpdatedAt))
	require.Equal(t, lifecycle.StatusNew, *p.CaseStatus)

	_, err = env.Engine.UpdateClinicalNotes(env.Ctx, c.ID, "c1", " ")
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCloseCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.approve(t, env.submit(t, "injury").ID).Case

	_, err := env.Engine.CloseCase(env.Ctx, engine.CloseCaseInput{CaseID: c.ID, ActorID: "whs-1", EndDate: "2025-01-01"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "end_date", verr.Field)

	_, err = env.Engine.CloseCase(env.Ctx, engine.CloseCaseInput{CaseID: c.ID, ActorID: "whs-1", DutyType: "partial"})
	require.ErrorAs(t, err, &verr)

	closed, err := env.Engine.CloseCase(env.Ctx, engine.CloseCaseInput{CaseID: c.ID, ActorID: "whs-1", EndDate: "2025-01-14", DutyType: engine.DutyFull})
	require.NoError(t, err)
	require.False(t, closed.IsActive)
	require.Equal(t, "2025-01-14", *closed.EndDate)
	require.Equal(t, engine.DutyFull, *closed.DutyType)
	require.Equal(t, lifecycle.StatusClosed, lifecycle.StatusOf(closed.NotesText()))

	_, err = env.Engine.CloseCase(env.Ctx, engine.CloseCaseInput{CaseID: c.ID, ActorID: "whs-1"})
	var invalid engine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = env.Engine.CloseCase(env.Ctx, engine.CloseCaseInput{CaseID: "missing", ActorID: "whs-1"})
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	inc := env.submit(t, "injury")

	tl1, err := env.Engine.Authorize(env.Ctx, "tl1", auth.PermIncidentDecide)
	require.NoError(t, err)
	require.NoError(t, env.Engine.CanDecide(env.Ctx, tl1, inc))

	tl2, err := env.Engine.Actor(env.Ctx, "tl2")
	require.NoError(t, err)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, env.Engine.CanDecide(env.Ctx, tl2, inc), &forbidden)

	_, err = env.Engine.Authorize(env.Ctx, "w1", auth.PermIncidentDecide)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.Authorize(env.Ctx, "ghost", auth.PermCaseRead)
	require.ErrorAs(t, err, &forbidden)
	require.Equal(t, auth.PermCaseRead, forbidden.Permission)

	c := env.approve(t, inc.ID).Case
	w1, _ := env.Engine.Actor(env.Ctx, "w1")
	w2, _ := env.Engine.Actor(env.Ctx, "w2")
	s1, _ := env.Engine.Actor(env.Ctx, "s1")
	clin, _ := env.Engine.Actor(env.Ctx, "c1")
	require.NoError(t, env.Engine.CanViewCase(env.Ctx, w1, c))
	require.NoError(t, env.Engine.CanViewCase(env.Ctx, s1, c))
	require.NoError(t, env.Engine.CanViewCase(env.Ctx, clin, c))
	require.ErrorAs(t, env.Engine.CanViewCase(env.Ctx, w2, c), &forbidden)
}
