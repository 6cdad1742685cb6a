package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/logging"
	"caseline/internal/metrics"
	"caseline/internal/repo"
)

// Dispatcher builds the three transition notifications and sends them
// through Gateway. Failures are logged and returned as warnings.
type Dispatcher struct {
	Gateway Gateway
	Repo    repo.Repo
	Logger  *logrus.Entry
	Now     func() time.Time
}

// FromConfig assembles the gateways enabled in cfg.
func FromConfig(cfg *config.Config, r repo.Repo, logger *logrus.Logger) Dispatcher {
	entry := logging.Component(logger, "notify")
	var gws Multi
	if cfg.Notifications.Inbox {
		gws = append(gws, Inbox{Repo: r})
	}
	if cfg.Notifications.Log {
		gws = append(gws, Log{Logger: entry})
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		gws = append(gws, Webhook{Hooks: cfg.Notifications.Webhooks, Client: &http.Client{}})
	}
	return Dispatcher{Gateway: gws, Repo: r, Logger: entry, Now: time.Now}
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Dispatcher) log() *logrus.Entry {
	if d.Logger == nil {
		return logging.Nop()
	}
	return d.Logger
}

// name resolves a user's display name, falling back to the id.
func (d Dispatcher) name(ctx context.Context, userID string) string {
	u, err := d.Repo.GetUser(ctx, userID)
	if err != nil {
		return userID
	}
	return u.DisplayName()
}

func (d Dispatcher) send(ctx context.Context, n Notification) *engine.Warning {
	n.ID = uuid.NewString()
	n.CreatedAt = d.now().Format(time.RFC3339)
	if d.Gateway == nil {
		return nil
	}
	if err := d.Gateway.Send(ctx, n); err != nil {
		metrics.SideEffectFailure(metrics.SideEffectNotification)
		d.log().WithError(err).WithFields(logrus.Fields{
			"kind":         n.Kind,
			"recipient_id": n.RecipientID,
		}).Warn("notification delivery failed")
		return &engine.Warning{
			Kind:    engine.WarningNotification,
			Message: fmt.Sprintf("%s notification to %s failed: %v", n.Kind, n.RecipientID, err),
		}
	}
	return nil
}

func collect(ws ...*engine.Warning) []engine.Warning {
	res := []engine.Warning{}
	for _, w := range ws {
		if w != nil {
			res = append(res, *w)
		}
	}
	return res
}

// ApprovalNeeded tells the team leaders of the incident's team that a
// report is waiting.
func (d Dispatcher) ApprovalNeeded(ctx context.Context, inc domain.Incident) []engine.Warning {
	leaders, err := d.Repo.ListUsers(ctx, repo.UserFilters{TeamID: inc.TeamID, Role: domain.RoleTeamLeader})
	if err != nil {
		d.log().WithError(err).WithField("incident_id", inc.ID).Warn("team leader lookup failed")
		metrics.SideEffectFailure(metrics.SideEffectNotification)
		return collect(&engine.Warning{Kind: engine.WarningNotification, Message: "team leader lookup failed: " + err.Error()})
	}
	if len(leaders) == 0 {
		d.log().WithFields(logrus.Fields{"incident_id": inc.ID, "team_id": inc.TeamID}).Warn("no team leader to notify")
		return collect(&engine.Warning{Kind: engine.WarningNotification, Message: "no team leader found for team " + inc.TeamID})
	}
	worker := d.name(ctx, inc.WorkerID)
	location := inc.Location
	if location == "" {
		location = "an unspecified location"
	}
	var ws []*engine.Warning
	for _, leader := range leaders {
		ws = append(ws, d.send(ctx, Notification{
			Kind:        KindApprovalNeeded,
			RecipientID: leader.ID,
			Title:       "Incident awaiting approval",
			Body: fmt.Sprintf("%s reported a %s severity %s at %s.",
				worker, inc.Severity, strings.ReplaceAll(inc.Type, "_", " "), location),
			Data: map[string]any{
				"incident_id":   inc.ID,
				"worker_id":     inc.WorkerID,
				"worker_name":   worker,
				"incident_type": inc.Type,
				"severity":      inc.Severity,
				"location":      inc.Location,
			},
		}))
	}
	return collect(ws...)
}

// IncidentApproved tells the worker, and their supervisor when one is
// recorded, that a case was opened.
func (d Dispatcher) IncidentApproved(ctx context.Context, inc domain.Incident, c domain.Case, approverID string) []engine.Warning {
	approver := d.name(ctx, approverID)
	data := map[string]any{
		"incident_id":   inc.ID,
		"case_id":       c.ID,
		"approver_id":   approverID,
		"approver_name": approver,
	}
	recipients := []string{inc.WorkerID}
	if worker, err := d.Repo.GetUser(ctx, inc.WorkerID); err == nil && worker.SupervisorID != nil && *worker.SupervisorID != "" {
		recipients = append(recipients, *worker.SupervisorID)
	}
	var ws []*engine.Warning
	for _, to := range recipients {
		ws = append(ws, d.send(ctx, Notification{
			Kind:        KindIncidentApproved,
			RecipientID: to,
			Title:       "Incident approved",
			Body:        fmt.Sprintf("Incident %s was approved by %s and case %s was opened.", inc.ID, approver, c.ID),
			Data:        data,
		}))
	}
	return collect(ws...)
}

// IncidentRejected tells the worker why their report was rejected.
func (d Dispatcher) IncidentRejected(ctx context.Context, inc domain.Incident, rejectorID string) []engine.Warning {
	rejector := d.name(ctx, rejectorID)
	reason := ""
	if inc.RejectionReason != nil {
		reason = *inc.RejectionReason
	}
	return collect(d.send(ctx, Notification{
		Kind:        KindIncidentRejected,
		RecipientID: inc.WorkerID,
		Title:       "Incident rejected",
		Body:        fmt.Sprintf("Incident %s was rejected by %s: %s", inc.ID, rejector, reason),
		Data: map[string]any{
			"incident_id":   inc.ID,
			"reason":        reason,
			"rejector_id":   rejectorID,
			"rejector_name": rejector,
		},
	}))
}
