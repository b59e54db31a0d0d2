package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine. External consumers (calendar sync,
// payment capture, notifications) key off these.
const (
	TypeJobCreated       = "job.created"
	TypeJobStatusChanged = "job.status_changed"
	TypeJobUpdated       = "job.updated"
	TypeJobPaid          = "job.paid"
	TypeQuoteSubmitted   = "quote.submitted"
	TypeQuoteAccepted    = "quote.accepted"
	TypeSlotCreated      = "slot.created"
	TypeSlotBooked       = "slot.booked"
	TypeSlotDeleted      = "slot.deleted"
	TypeProposalCreated  = "proposal.created"
	TypeProposalResolved = "proposal.resolved"
	TypeSheetCheckedIn   = "sheet.checked_in"
	TypeSheetCheckedOut  = "sheet.checked_out"
	TypeSheetUpdated     = "sheet.updated"
	TypeSheetSigned      = "sheet.signed"
	TypeSheetCompleted   = "sheet.completed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes the event row inside the caller's transaction so the event is
// only visible once the state change it describes is durably committed.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, jobID, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(jobID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
