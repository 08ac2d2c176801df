package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the lifecycle engine. Webhook subscribers filter
// on these names.
const (
	TypeProjectInit      = "project.init"
	TypeProjectApproval  = "project.approval"
	TypeTaskCreated      = "task.created"
	TypeTaskClaimed      = "task.claimed"
	TypeTaskDropped      = "task.dropped"
	TypeTaskSubmitted    = "task.submitted"
	TypeTaskRejected     = "task.rejected"
	TypeTaskApproved     = "task.approved"
	TypeTaskReward       = "task.reward_updated"
	TypeTaskActivity     = "task.activity_changed"
	TypeTaskGranularized = "task.granularized"
	TypeLedgerReset      = "ledger.reset"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
