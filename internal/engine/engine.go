// Package engine implements the coordination core: scope leases, the task
// and integration-queue state machines, policy checks and board reviews.
// Every mutating operation runs inside a single database transaction so the
// read-modify-write sequence (notably the lease overlap check) is atomic.
package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/events"
	"crewline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// record appends an audit event outside any caller transaction. Like
// events.Writer.Record it is best-effort and never fails the operation.
func (e Engine) record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	e.Events.Record(ctx, tx, evtType, entityKind, entityID, actorID, payload)
	_ = tx.Commit()
}
