package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	team := "t1"
	sup := "s1"
	for _, u := range []domain.User{
		{ID: "w1", Name: "Wendy", Role: domain.RoleWorker, TeamID: &team, SupervisorID: &sup},
		{ID: "tl1", Name: "Tara", Role: domain.RoleTeamLeader, TeamID: &team},
		{ID: "s1", Name: "Sam", Role: domain.RoleSupervisor, TeamID: &team},
	} {
		u.CreatedAt = now.Format(time.RFC3339)
		require.NoError(t, r.UpsertUser(context.Background(), u))
	}
	return r
}

func incident() domain.Incident {
	return domain.Incident{
		ID: "inc-1", WorkerID: "w1", TeamID: "t1", Type: "near_miss", Severity: "high",
		Description: "Pallet fell", ApprovalStatus: domain.ApprovalPending,
	}
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func TestApprovalNeededGoesToTeamLeaders(t *testing.T) {
	r := newRepo(t)
	rec := &recorder{}
	d := notify.Dispatcher{Gateway: rec, Repo: r, Now: func() time.Time { return now }}

	warnings := d.ApprovalNeeded(context.Background(), incident())
	require.Empty(t, warnings)
	require.Len(t, rec.sent, 1)
	n := rec.sent[0]
	require.Equal(t, notify.KindApprovalNeeded, n.Kind)
	require.Equal(t, "tl1", n.RecipientID)
	require.NotEmpty(t, n.ID)
	require.Equal(t, "2025-01-15T10:00:00Z", n.CreatedAt)
	require.Contains(t, n.Body, "Wendy")
	require.Contains(t, n.Body, "near miss")
	require.Equal(t, "inc-1", n.Data["incident_id"])

	other := incident()
	other.TeamID = "t9"
	warnings = d.ApprovalNeeded(context.Background(), other)
	require.Len(t, warnings, 1)
	require.Equal(t, engine.WarningNotification, warnings[0].Kind)
}

func TestGatewayFailureBecomesWarning(t *testing.T) {
	r := newRepo(t)
	d := notify.Dispatcher{
		Gateway: notify.GatewayFunc(func(context.Context, notify.Notification) error {
			return errors.New("smtp down")
		}),
		Repo: r,
	}
	inc := incident()
	inc.ApprovalStatus = domain.ApprovalApproved
	warnings := d.IncidentApproved(context.Background(), inc, domain.Case{ID: "case-1"}, "tl1")
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		require.Equal(t, engine.WarningNotification, w.Kind)
		require.Contains(t, w.Message, "smtp down")
	}
}

func TestInboxStoresNotifications(t *testing.T) {
	r := newRepo(t)
	d := notify.FromConfig(config.Default(), r, nil)
	d.Now = func() time.Time { return now }

	inc := incident()
	reason := "Not work related"
	inc.RejectionReason = &reason
	require.Empty(t, d.IncidentRejected(context.Background(), inc, "tl1"))
	require.Empty(t, d.IncidentApproved(context.Background(), inc, domain.Case{ID: "case-1"}, "tl1"))

	ctx := context.Background()
	worker, err := r.ListNotifications(ctx, "w1", true, 0)
	require.NoError(t, err)
	require.Len(t, worker, 2)
	kinds := []string{worker[0].Kind, worker[1].Kind}
	require.ElementsMatch(t, []string{notify.KindIncidentRejected, notify.KindIncidentApproved}, kinds)

	sup, err := r.ListNotifications(ctx, "s1", true, 0)
	require.NoError(t, err)
	require.Len(t, sup, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(sup[0].PayloadJSON), &payload))
	require.Equal(t, "case-1", payload["case_id"])
	require.Equal(t, "Tara", payload["approver_name"])

	require.NoError(t, r.MarkNotificationRead(ctx, sup[0].ID, "s1", now.Format(time.RFC3339)))
	unread, err := r.ListNotifications(ctx, "s1", true, 0)
	require.NoError(t, err)
	require.Empty(t, unread)
	require.ErrorIs(t, r.MarkNotificationRead(ctx, sup[0].ID, "w1", now.Format(time.RFC3339)), repo.ErrNotFound)
}

func TestWebhookDelivery(t *testing.T) {
	type delivery struct {
		header http.Header
		body   notify.Notification
	}
	var (
		mu  sync.Mutex
		got []delivery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var n notify.Notification
		_ = json.Unmarshal(data, &n)
		mu.Lock()
		got = append(got, delivery{header: r.Header.Clone(), body: n})
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := notify.Webhook{Hooks: []config.Webhook{{
		URL:    srv.URL,
		Events: []string{notify.KindIncidentApproved},
		Secret: "s3cret",
	}}}
	ctx := context.Background()
	require.NoError(t, wh.Send(ctx, notify.Notification{ID: "n1", Kind: notify.KindIncidentApproved, RecipientID: "w1", Title: "ok"}))
	require.NoError(t, wh.Send(ctx, notify.Notification{ID: "n2", Kind: notify.KindApprovalNeeded, RecipientID: "tl1"}))

	require.Len(t, got, 1)
	require.Equal(t, notify.KindIncidentApproved, got[0].header.Get("X-Caseline-Event"))
	require.Equal(t, "n1", got[0].header.Get("X-Caseline-Delivery"))
	require.Equal(t, "s3cret", got[0].header.Get("X-Caseline-Secret"))
	require.Equal(t, "w1", got[0].body.RecipientID)
}

func TestWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := notify.Webhook{Hooks: []config.Webhook{{URL: srv.URL}}}
	err := wh.Send(context.Background(), notify.Notification{ID: "n1", Kind: notify.KindIncidentRejected})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")

	multi := notify.Multi{&recorder{}, wh}
	require.Error(t, multi.Send(context.Background(), notify.Notification{ID: "n2", Kind: notify.KindIncidentRejected}))
}
