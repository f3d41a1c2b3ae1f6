package engine

import (
	"context"
	"errors"
	"fmt"

	"crewline/internal/domain"
	"crewline/internal/events"
)

// EnqueueOptions are parameters for pushing a branch onto the
// integration queue.
type EnqueueOptions struct {
	Owner   string
	Branch  string
	Scope   []string
	Deps    []string
	Risk    string
	LeaseID string
}

func (e Engine) Enqueue(ctx context.Context, opts EnqueueOptions) (domain.QueueItem, error) {
	if opts.Owner == "" {
		return domain.QueueItem{}, errors.New("owner is required")
	}
	if opts.Branch == "" {
		return domain.QueueItem{}, errors.New("branch is required")
	}
	now := e.timestamp()
	it := domain.QueueItem{
		ID:         e.newID(),
		Owner:      opts.Owner,
		Branch:     opts.Branch,
		Scope:      opts.Scope,
		Deps:       opts.Deps,
		Risk:       opts.Risk,
		Status:     domain.QueueQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	if opts.LeaseID != "" {
		it.LeaseID = &opts.LeaseID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()
	if it.LeaseID != nil {
		if _, err := e.Repo.GetLeaseTx(ctx, tx, *it.LeaseID); err != nil {
			return domain.QueueItem{}, fmt.Errorf("lease %s: %w", *it.LeaseID, err)
		}
	}
	if err := e.Repo.InsertQueueItem(ctx, tx, it); err != nil {
		return domain.QueueItem{}, err
	}
	e.Events.Record(ctx, tx, "queue.pushed", "queue_item", it.ID, opts.Owner, events.EventPayload{
		"branch": it.Branch,
		"risk":   it.Risk,
	})
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return it, nil
}

// depsResolved reports whether every dependency of an item has merged.
// An unknown dependency id counts as unresolved, not as an error.
func depsResolved(deps []string, statuses map[string]string) bool {
	for _, d := range deps {
		if statuses[d] != domain.QueueMerged {
			return false
		}
	}
	return true
}

// AreDepsResolved reports whether an item's dependencies are all merged.
func (e Engine) AreDepsResolved(ctx context.Context, id string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetQueueItemTx(ctx, tx, id)
	if err != nil {
		return false, err
	}
	statuses, err := e.Repo.QueueStatuses(ctx, tx)
	if err != nil {
		return false, err
	}
	return depsResolved(it.Deps, statuses), nil
}

// Dequeue hands the next integrable item to an integrator and moves it to
// reviewing. Approved items win over queued ones regardless of age; within
// a tier the oldest enqueue wins. Items with unmerged dependencies are
// skipped.
func (e Engine) Dequeue(ctx context.Context, actorID string) (domain.QueueItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()

	statuses, err := e.Repo.QueueStatuses(ctx, tx)
	if err != nil {
		return domain.QueueItem{}, err
	}
	var picked *domain.QueueItem
	for _, status := range []string{domain.QueueApproved, domain.QueueQueued} {
		items, err := e.Repo.ListQueueTx(ctx, tx, status)
		if err != nil {
			return domain.QueueItem{}, err
		}
		for i := range items {
			if depsResolved(items[i].Deps, statuses) {
				picked = &items[i]
				break
			}
		}
		if picked != nil {
			break
		}
	}
	if picked == nil {
		return domain.QueueItem{}, ErrEmptyQueue
	}
	now := e.timestamp()
	if err := e.Repo.SetQueueItemStatus(ctx, tx, picked.ID, domain.QueueReviewing, now); err != nil {
		return domain.QueueItem{}, err
	}
	picked.Status = domain.QueueReviewing
	picked.UpdatedAt = now
	e.Events.Record(ctx, tx, "queue.pulled", "queue_item", picked.ID, actorID, events.EventPayload{"branch": picked.Branch})
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return *picked, nil
}

// DequeueByID pulls one specific item. It must be queued or approved;
// dependency gating does not apply on an explicit pull.
func (e Engine) DequeueByID(ctx context.Context, id, actorID string) (domain.QueueItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetQueueItemTx(ctx, tx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	if it.Status != domain.QueueQueued && it.Status != domain.QueueApproved {
		return domain.QueueItem{}, &InvalidStateError{Entity: "queue_item", ID: id, Status: it.Status, Expected: []string{domain.QueueQueued, domain.QueueApproved}}
	}
	now := e.timestamp()
	if err := e.Repo.SetQueueItemStatus(ctx, tx, id, domain.QueueReviewing, now); err != nil {
		return domain.QueueItem{}, err
	}
	it.Status = domain.QueueReviewing
	it.UpdatedAt = now
	e.Events.Record(ctx, tx, "queue.pulled", "queue_item", it.ID, actorID, events.EventPayload{"branch": it.Branch})
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return it, nil
}

// setQueueStatus writes an item's status directly. Coordinators use these
// writes to correct queue state, so only existence is checked.
func (e Engine) setQueueStatus(ctx context.Context, id, status, evtType, actorID string, payload events.EventPayload) (domain.QueueItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetQueueItemTx(ctx, tx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	now := e.timestamp()
	if err := e.Repo.SetQueueItemStatus(ctx, tx, id, status, now); err != nil {
		return domain.QueueItem{}, err
	}
	it.Status = status
	it.UpdatedAt = now
	e.Events.Record(ctx, tx, evtType, "queue_item", it.ID, actorID, payload)
	if err := tx.Commit(); err != nil {
		return domain.QueueItem{}, err
	}
	return it, nil
}

func (e Engine) ApproveItem(ctx context.Context, id, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueApproved, "queue.approved", actorID, nil)
}

func (e Engine) RequestChanges(ctx context.Context, id, reason, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueChangesRequested, "queue.changes_requested", actorID, events.EventPayload{"reason": reason})
}

func (e Engine) BlockItem(ctx context.Context, id, reason, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueBlocked, "queue.blocked", actorID, events.EventPayload{"reason": reason})
}

func (e Engine) MarkTesting(ctx context.Context, id, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueTesting, "queue.testing", actorID, nil)
}

func (e Engine) MarkMerged(ctx context.Context, id, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueMerged, "queue.merged", actorID, nil)
}

func (e Engine) RevertItem(ctx context.Context, id, reason, actorID string) (domain.QueueItem, error) {
	return e.setQueueStatus(ctx, id, domain.QueueReverted, "queue.reverted", actorID, events.EventPayload{"reason": reason})
}
