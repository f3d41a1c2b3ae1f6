// Package events is the audit sink. Recording is best-effort: Record never
// returns an error, so a broken sink cannot fail the operation that emitted
// the event.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record appends one audit event inside the caller's transaction. Failures
// are logged and swallowed.
func (w Writer) Record(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) {
	if err := w.append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		log.Warn().Err(err).Str("type", evtType).Str("entity", entityID).Msg("audit event dropped")
	}
}

func (w Writer) append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
