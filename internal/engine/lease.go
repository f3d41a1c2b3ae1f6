package engine

import (
	"context"
	"errors"
	"time"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/scope"
)

// IsEffectivelyActive reports whether a lease still blocks conflicting
// claims at the given instant. A lease whose expiry has passed is inactive
// even if no sweep has marked it expired yet.
func IsEffectivelyActive(l domain.Lease, now time.Time) bool {
	if l.Status != domain.LeaseActive {
		return false
	}
	exp, err := time.Parse(time.RFC3339, l.ExpiresAt)
	if err != nil {
		return false
	}
	return exp.After(now)
}

// ClaimOptions are parameters for claiming a lease.
type ClaimOptions struct {
	Actor  string
	Branch string
	Scope  []string
	Intent string
	TTL    time.Duration
}

// ClaimLease grants an exclusive time-bounded claim over a file scope. The
// claim fails with ScopeConflictError if any other actor holds an
// effectively active lease whose scope overlaps the requested one. There is
// no queueing: the caller retries later.
func (e Engine) ClaimLease(ctx context.Context, opts ClaimOptions) (domain.Lease, error) {
	if opts.Actor == "" {
		return domain.Lease{}, errors.New("actor is required")
	}
	if len(opts.Scope) == 0 {
		return domain.Lease{}, errors.New("scope is required")
	}
	for _, p := range opts.Scope {
		if p == "" {
			return domain.Lease{}, errors.New("scope contains an empty pattern")
		}
	}
	ttl := e.resolveTTL(opts.TTL)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	active, err := e.Repo.ListLeasesTx(ctx, tx, domain.LeaseActive)
	if err != nil {
		return domain.Lease{}, err
	}
	for _, held := range active {
		if held.Actor == opts.Actor {
			continue
		}
		if !IsEffectivelyActive(held, now) {
			continue
		}
		if scope.Overlaps(opts.Scope, held.Scope) {
			return domain.Lease{}, &ScopeConflictError{LeaseID: held.ID, Actor: held.Actor, Scope: held.Scope}
		}
	}

	l := domain.Lease{
		ID:        e.newID(),
		Actor:     opts.Actor,
		Branch:    opts.Branch,
		Scope:     opts.Scope,
		Intent:    opts.Intent,
		Status:    domain.LeaseActive,
		IssuedAt:  now.Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	}
	if err := e.Repo.InsertLease(ctx, tx, l); err != nil {
		return domain.Lease{}, err
	}
	e.Events.Record(ctx, tx, "lease.claimed", "lease", l.ID, opts.Actor, events.EventPayload{
		"scope":      l.Scope,
		"expires_at": l.ExpiresAt,
	})
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return l, nil
}

func (e Engine) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = time.Duration(e.Config.DefaultTTLMinutes()) * time.Minute
	}
	if limit := e.Config.Lease.MaxTTLMinutes; limit > 0 {
		if capped := time.Duration(limit) * time.Minute; ttl > capped {
			ttl = capped
		}
	}
	return ttl
}

// RenewLease extends an active lease's expiry. Renewing a lease that is
// released, revoked, expired, or past its expiry fails.
func (e Engine) RenewLease(ctx context.Context, id string, ttl time.Duration) (domain.Lease, error) {
	ttl = e.resolveTTL(ttl)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeaseTx(ctx, tx, id)
	if err != nil {
		return domain.Lease{}, err
	}
	now := e.now().UTC()
	if l.Status == domain.LeaseActive && !IsEffectivelyActive(l, now) {
		// lazy expiry sweep on read
		l.Status = domain.LeaseExpired
		if err := e.Repo.UpdateLease(ctx, tx, l); err != nil {
			return domain.Lease{}, err
		}
		e.Events.Record(ctx, tx, "lease.expired", "lease", l.ID, l.Actor, nil)
		if err := tx.Commit(); err != nil {
			return domain.Lease{}, err
		}
		return domain.Lease{}, &InvalidTransitionError{Entity: "lease", ID: id, From: domain.LeaseExpired, To: domain.LeaseActive}
	}
	if l.Status != domain.LeaseActive {
		return domain.Lease{}, &InvalidTransitionError{Entity: "lease", ID: id, From: l.Status, To: domain.LeaseActive}
	}
	renewed := now.Format(time.RFC3339)
	l.ExpiresAt = now.Add(ttl).Format(time.RFC3339)
	l.LastRenewedAt = &renewed
	if err := e.Repo.UpdateLease(ctx, tx, l); err != nil {
		return domain.Lease{}, err
	}
	e.Events.Record(ctx, tx, "lease.renewed", "lease", l.ID, l.Actor, events.EventPayload{"expires_at": l.ExpiresAt})
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return l, nil
}

// ReleaseLease voluntarily ends a lease. Releasing an already terminal
// lease is an idempotent no-op.
func (e Engine) ReleaseLease(ctx context.Context, id, actorID string) (domain.Lease, error) {
	return e.terminateLease(ctx, id, actorID, domain.LeaseReleased, "lease.released")
}

// RevokeLease administratively ends a lease. Idempotent like ReleaseLease.
func (e Engine) RevokeLease(ctx context.Context, id, actorID string) (domain.Lease, error) {
	return e.terminateLease(ctx, id, actorID, domain.LeaseRevoked, "lease.revoked")
}

func (e Engine) terminateLease(ctx context.Context, id, actorID, status, evtType string) (domain.Lease, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeaseTx(ctx, tx, id)
	if err != nil {
		return domain.Lease{}, err
	}
	if l.Status != domain.LeaseActive {
		return l, nil
	}
	l.Status = status
	if err := e.Repo.UpdateLease(ctx, tx, l); err != nil {
		return domain.Lease{}, err
	}
	e.Events.Record(ctx, tx, evtType, "lease", l.ID, actorID, nil)
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return l, nil
}

// CleanupLeases sweeps active leases whose expiry has passed, marking them
// expired. Returns the number of leases swept.
func (e Engine) CleanupLeases(ctx context.Context, actorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	active, err := e.Repo.ListLeasesTx(ctx, tx, domain.LeaseActive)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, l := range active {
		if IsEffectivelyActive(l, now) {
			continue
		}
		l.Status = domain.LeaseExpired
		if err := e.Repo.UpdateLease(ctx, tx, l); err != nil {
			return 0, err
		}
		e.Events.Record(ctx, tx, "lease.expired", "lease", l.ID, actorID, nil)
		swept++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return swept, nil
}

// ListLeases returns leases, optionally filtered by status. Leases that are
// active but past expiry are reported with status "expired" even before a
// sweep runs.
func (e Engine) ListLeases(ctx context.Context, status string) ([]domain.Lease, error) {
	leases, err := e.Repo.ListLeases(ctx, status)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	for i, l := range leases {
		if l.Status == domain.LeaseActive && !IsEffectivelyActive(l, now) {
			leases[i].Status = domain.LeaseExpired
		}
	}
	return leases, nil
}
