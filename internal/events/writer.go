package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	IncidentSubmitted   = "incident.submitted"
	IncidentApproved    = "incident.approved"
	IncidentRejected    = "incident.rejected"
	CaseCreated         = "case.created"
	CaseStatusChanged   = "case.status_changed"
	CaseNotesUpdated    = "case.clinical_notes_updated"
	CaseClosed          = "case.closed"
	ScheduleDeactivated = "schedule.deactivated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx, so it commits or rolls back with the
// change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// AppendStandalone writes an event outside any transaction.
func (w Writer) AppendStandalone(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, w.DB, evtType, entityKind, entityID, actorID, payload)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w Writer) append(ctx context.Context, ex execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
