package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crewline/internal/domain"
	"crewline/internal/events"
)

const branchMaxLen = 48

// BranchFromTitle derives a work branch name deterministically from a task
// title: lower-cased, runs of non-alphanumeric characters collapsed to a
// single '-', truncated.
func BranchFromTitle(title string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			if b.Len() > 0 {
				pendingDash = true
			}
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	s := b.String()
	if len(s) > branchMaxLen {
		s = strings.TrimRight(s[:branchMaxLen], "-")
	}
	return s
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title    string
	Scope    []string
	Priority string
	Notes    string
	ActorID  string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if domain.PriorityRank(opts.Priority) > 3 {
		return domain.Task{}, fmt.Errorf("unknown priority %s", opts.Priority)
	}
	now := e.timestamp()
	t := domain.Task{
		ID:        e.newID(),
		Title:     opts.Title,
		Scope:     opts.Scope,
		Priority:  opts.Priority,
		Status:    domain.TaskPending,
		Notes:     opts.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title":    t.Title,
		"priority": t.Priority,
	})
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignTask hands a pending task to a worker.
func (e Engine) AssignTask(ctx context.Context, id, worker, actorID string) (domain.Task, error) {
	if worker == "" {
		return domain.Task{}, errors.New("worker is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskPending {
		return domain.Task{}, &InvalidTransitionError{Entity: "task", ID: id, From: t.Status, To: domain.TaskAssigned}
	}
	t.Status = domain.TaskAssigned
	t.AssignedTo = &worker
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.assigned", "task", t.ID, actorID, events.EventPayload{"worker": worker})
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// StartTask moves an assigned task to in_progress. Only the assigned
// worker may start it; the work branch is derived from the title here.
func (e Engine) StartTask(ctx context.Context, id, worker string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskAssigned || t.AssignedTo == nil || *t.AssignedTo != worker {
		return domain.Task{}, &InvalidTransitionError{Entity: "task", ID: id, From: t.Status, To: domain.TaskInProgress}
	}
	t.Status = domain.TaskInProgress
	t.Branch = BranchFromTitle(t.Title)
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.started", "task", t.ID, worker, events.EventPayload{"branch": t.Branch})
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask finishes a task from assigned or in_progress.
func (e Engine) CompleteTask(ctx context.Context, id, worker string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskAssigned && t.Status != domain.TaskInProgress {
		return domain.Task{}, &InvalidTransitionError{Entity: "task", ID: id, From: t.Status, To: domain.TaskCompleted}
	}
	now := e.timestamp()
	t.Status = domain.TaskCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.completed", "task", t.ID, worker, nil)
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// BlockTask parks a task from any non-terminal state.
func (e Engine) BlockTask(ctx context.Context, id, reason, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.TaskCompleted || t.Status == domain.TaskBlocked {
		return domain.Task{}, &InvalidTransitionError{Entity: "task", ID: id, From: t.Status, To: domain.TaskBlocked}
	}
	t.Status = domain.TaskBlocked
	if reason != "" {
		t.Notes = reason
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.blocked", "task", t.ID, actorID, events.EventPayload{"reason": reason})
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTaskNotes replaces a task's notes. Notes stay mutable after
// completion; nothing else does.
func (e Engine) UpdateTaskNotes(ctx context.Context, id, notes, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Notes = notes
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	e.Events.Record(ctx, tx, "task.notes", "task", t.ID, actorID, nil)
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// NextPendingTask picks the next task a free worker should take: highest
// priority tier first, FIFO within the tier.
func (e Engine) NextPendingTask(ctx context.Context) (domain.Task, error) {
	return e.Repo.NextPendingTask(ctx)
}
