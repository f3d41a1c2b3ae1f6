package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

func newTestEngine(t *testing.T) (Engine, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := &now
	e := New(conn, config.Default())
	e.Now = func() time.Time { return *clock }
	seq := 0
	e.NewID = func() string { seq++; return fmt.Sprintf("id-%04d", seq) }
	return e, clock
}

func advance(clock *time.Time, d time.Duration) {
	*clock = clock.Add(d)
}

func TestClaimLeaseConflict(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/routes/**"}}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-beta", Scope: []string{"src/routes/api.ts"}})
	var conflict *ScopeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ScopeConflictError, got %v", err)
	}
	if conflict.Actor != "worker-alpha" {
		t.Fatalf("conflict blamed on %s", conflict.Actor)
	}

	// disjoint scope goes through
	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-beta", Scope: []string{"docs/**"}}); err != nil {
		t.Fatalf("disjoint claim: %v", err)
	}
	// the holder itself may claim an overlapping lease
	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/routes/auth.ts"}}); err != nil {
		t.Fatalf("same-actor overlap: %v", err)
	}
}

func TestClaimIgnoresExpiredLease(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/**"}, TTL: 10 * time.Minute}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	advance(clock, 11*time.Minute)
	// the expired lease was never swept, but must not block
	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-beta", Scope: []string{"src/app.ts"}}); err != nil {
		t.Fatalf("claim over expired lease: %v", err)
	}
}

func TestRenewLease(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	l, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/**"}, TTL: 30 * time.Minute})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	advance(clock, 10*time.Minute)
	renewed, err := e.RenewLease(ctx, l.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.ExpiresAt <= l.ExpiresAt {
		t.Fatalf("expiry not extended: %s -> %s", l.ExpiresAt, renewed.ExpiresAt)
	}
	if renewed.LastRenewedAt == nil {
		t.Fatal("last_renewed_at not set")
	}
}

func TestRenewExpiredLeaseFailsAndSweeps(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	l, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/**"}, TTL: 10 * time.Minute})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	advance(clock, time.Hour)
	_, err = e.RenewLease(ctx, l.ID, 0)
	var bad *InvalidTransitionError
	if !errors.As(err, &bad) || bad.From != domain.LeaseExpired {
		t.Fatalf("expected expired transition error, got %v", err)
	}
	got, err := e.Repo.GetLease(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.LeaseExpired {
		t.Fatalf("lease not swept: %s", got.Status)
	}
}

func TestReleaseLeaseIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	l, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/**"}})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	first, err := e.ReleaseLease(ctx, l.ID, "worker-alpha")
	if err != nil || first.Status != domain.LeaseReleased {
		t.Fatalf("release: %v status=%s", err, first.Status)
	}
	second, err := e.ReleaseLease(ctx, l.ID, "worker-alpha")
	if err != nil || second.Status != domain.LeaseReleased {
		t.Fatalf("second release not a no-op: %v status=%s", err, second.Status)
	}
	if _, err := e.RevokeLease(ctx, l.ID, "human-lead"); err != nil {
		t.Fatalf("revoke after release: %v", err)
	}
}

func TestCleanupLeases(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"a/**"}, TTL: 10 * time.Minute}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-beta", Scope: []string{"b/**"}, TTL: 2 * time.Hour}); err != nil {
		t.Fatal(err)
	}
	advance(clock, 30*time.Minute)

	leases, err := e.ListLeases(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	statuses := map[string]int{}
	for _, l := range leases {
		statuses[l.Status]++
	}
	if statuses[domain.LeaseExpired] != 1 || statuses[domain.LeaseActive] != 1 {
		t.Fatalf("list annotation wrong: %v", statuses)
	}

	n, err := e.CleanupLeases(ctx, "overseer")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d leases, want 1", n)
	}
}

func TestBranchFromTitle(t *testing.T) {
	cases := map[string]string{
		"Fix login bug":         "fix-login-bug",
		"  Update  README!!! ":  "update-readme",
		"v2: API rework (auth)": "v2-api-rework-auth",
	}
	for in, want := range cases {
		if got := BranchFromTitle(in); got != want {
			t.Errorf("BranchFromTitle(%q) = %q, want %q", in, got, want)
		}
	}
	long := BranchFromTitle("this title is very very very very very very very long indeed")
	if len(long) > branchMaxLen {
		t.Errorf("branch not truncated: %q", long)
	}
}

func TestTaskLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, TaskCreateOptions{Title: "Fix login bug", ActorID: "human-lead"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.TaskPending || task.Priority != domain.PriorityMedium {
		t.Fatalf("bad defaults: %s/%s", task.Status, task.Priority)
	}

	// start before assign fails
	if _, err := e.StartTask(ctx, task.ID, "worker-alpha"); err == nil {
		t.Fatal("start of pending task succeeded")
	}
	task, err = e.AssignTask(ctx, task.ID, "worker-alpha", "human-lead")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	// only the assignee may start
	if _, err := e.StartTask(ctx, task.ID, "worker-beta"); err == nil {
		t.Fatal("start by non-assignee succeeded")
	}
	task, err = e.StartTask(ctx, task.ID, "worker-alpha")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Branch != "fix-login-bug" {
		t.Fatalf("branch = %q", task.Branch)
	}
	task, err = e.CompleteTask(ctx, task.ID, "worker-alpha")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	// terminal states reject block
	if _, err := e.BlockTask(ctx, task.ID, "stale", "human-lead"); err == nil {
		t.Fatal("block of completed task succeeded")
	}
	// notes stay editable after completion
	if _, err := e.UpdateTaskNotes(ctx, task.ID, "shipped in r42", "human-lead"); err != nil {
		t.Fatalf("notes after completion: %v", err)
	}
}

func TestBlockTaskFromAnyNonTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	task, err := e.CreateTask(ctx, TaskCreateOptions{Title: "refactor"})
	if err != nil {
		t.Fatal(err)
	}
	task, err = e.BlockTask(ctx, task.ID, "waiting on design", "human-lead")
	if err != nil {
		t.Fatalf("block pending: %v", err)
	}
	if task.Status != domain.TaskBlocked || task.Notes != "waiting on design" {
		t.Fatalf("got %s / %q", task.Status, task.Notes)
	}
	if _, err := e.BlockTask(ctx, task.ID, "again", "human-lead"); err == nil {
		t.Fatal("double block succeeded")
	}
}

func TestNextPendingTaskPriorityOrder(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	mk := func(title, priority string) domain.Task {
		t.Helper()
		task, err := e.CreateTask(ctx, TaskCreateOptions{Title: title, Priority: priority})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		advance(clock, time.Minute)
		return task
	}
	mk("low job", domain.PriorityLow)
	crit := mk("critical job", domain.PriorityCritical)
	medA := mk("medium one", domain.PriorityMedium)
	mk("medium two", domain.PriorityMedium)

	next, err := e.NextPendingTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != crit.ID {
		t.Fatalf("next = %s, want critical", next.Title)
	}
	if _, err := e.AssignTask(ctx, crit.ID, "worker-alpha", "human-lead"); err != nil {
		t.Fatal(err)
	}
	next, err = e.NextPendingTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// oldest medium wins over the newer one and over low
	if next.ID != medA.ID {
		t.Fatalf("next = %s, want oldest medium", next.Title)
	}
}

func TestNextPendingTaskEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.NextPendingTask(context.Background()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDequeuePrefersApproved(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-alpha", Branch: "feat/a"})
	if err != nil {
		t.Fatal(err)
	}
	advance(clock, time.Minute)
	second, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-beta", Branch: "feat/b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApproveItem(ctx, second.ID, "human-lead"); err != nil {
		t.Fatal(err)
	}

	got, err := e.Dequeue(ctx, "integrator")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	// the approved item wins even though it enqueued later
	if got.ID != second.ID {
		t.Fatalf("dequeued %s, want approved item", got.Branch)
	}
	if got.Status != domain.QueueReviewing {
		t.Fatalf("status = %s", got.Status)
	}
	got, err = e.Dequeue(ctx, "integrator")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Fatalf("dequeued %s, want queued fallback", got.Branch)
	}
}

func TestDequeueDependencyGate(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	base, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-alpha", Branch: "feat/base"})
	if err != nil {
		t.Fatal(err)
	}
	advance(clock, time.Minute)
	dep, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-beta", Branch: "feat/on-top", Deps: []string{base.ID}})
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.Dequeue(ctx, "integrator")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != base.ID {
		t.Fatalf("dequeued %s before its dependency merged", got.Branch)
	}
	// dependent is gated until base merges
	if _, err := e.Dequeue(ctx, "integrator"); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected empty queue, got %v", err)
	}
	if _, err := e.MarkMerged(ctx, base.ID, "integrator"); err != nil {
		t.Fatal(err)
	}
	resolved, err := e.AreDepsResolved(ctx, dep.ID)
	if err != nil || !resolved {
		t.Fatalf("deps resolved = %v, %v", resolved, err)
	}
	got, err = e.Dequeue(ctx, "integrator")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != dep.ID {
		t.Fatalf("dequeued %s, want dependent", got.Branch)
	}
}

func TestDequeueUnknownDependencyGates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	it, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-alpha", Branch: "feat/x", Deps: []string{"no-such-item"}})
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := e.AreDepsResolved(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved {
		t.Fatal("unknown dependency counted as merged")
	}
	if _, err := e.Dequeue(ctx, "integrator"); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestDequeueByID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	it, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-alpha", Branch: "feat/a"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.DequeueByID(ctx, it.ID, "integrator")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.QueueReviewing {
		t.Fatalf("status = %s", got.Status)
	}
	// already reviewing
	_, err = e.DequeueByID(ctx, it.ID, "integrator")
	var bad *InvalidStateError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestQueueStatusWritesArePermissive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	it, err := e.Enqueue(ctx, EnqueueOptions{Owner: "worker-alpha", Branch: "feat/a"})
	if err != nil {
		t.Fatal(err)
	}
	// coordinators may rewrite status freely to correct queue state
	if _, err := e.MarkMerged(ctx, it.ID, "human-lead"); err != nil {
		t.Fatal(err)
	}
	reverted, err := e.RevertItem(ctx, it.ID, "broke main", "human-lead")
	if err != nil {
		t.Fatal(err)
	}
	if reverted.Status != domain.QueueReverted {
		t.Fatalf("status = %s", reverted.Status)
	}
	if _, err := e.ApproveItem(ctx, "missing", "human-lead"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := e.SendMessage(ctx, "worker-alpha", "human-lead", "lease conflict", "need src/routes, blocked by beta")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := e.SendMessage(ctx, "worker-beta", "human-lead", "", "done with feat/b"); err != nil {
		t.Fatal(err)
	}

	inbox, err := e.ListMessages(ctx, "human-lead", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox has %d messages", len(inbox))
	}
	if err := e.MarkMessageRead(ctx, m.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := e.ListMessages(ctx, "human-lead", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].Sender != "worker-beta" {
		t.Fatalf("unread filter wrong: %+v", unread)
	}
	if err := e.MarkMessageRead(ctx, m.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("re-read should fail, got %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	l, err := e.ClaimLease(ctx, ClaimOptions{Actor: "worker-alpha", Scope: []string{"src/**"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReleaseLease(ctx, l.ID, "worker-alpha"); err != nil {
		t.Fatal(err)
	}
	evts, err := e.Repo.LatestEvents(ctx, 10, "", "lease", l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("got %d events, want 2", len(evts))
	}
	// newest first
	if evts[0].Type != "lease.released" || evts[1].Type != "lease.claimed" {
		t.Fatalf("event order: %s, %s", evts[0].Type, evts[1].Type)
	}
}

func TestEvaluatePolicyDefaults(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	res := e.EvaluatePolicy(ctx, "worker-alpha", "lease.claim", []string{"config/secrets/app.yml"}, nil)
	if res.Decision != "deny" {
		t.Fatalf("secrets claim allowed: %+v", res)
	}
	res = e.EvaluatePolicy(ctx, "worker-alpha", "lease.claim", []string{"src/app.ts"}, nil)
	if res.Decision != "allow" || res.HasWarnings {
		t.Fatalf("plain claim: %+v", res)
	}
	// merges in the small hours warn but go through
	*clock = time.Date(2024, 3, 15, 2, 30, 0, 0, time.UTC)
	res = e.EvaluatePolicy(ctx, "worker-alpha", "queue.merge", nil, nil)
	if res.Decision != "allow" || !res.HasWarnings {
		t.Fatalf("night merge: %+v", res)
	}
}

func TestResolveTTLCap(t *testing.T) {
	e, _ := newTestEngine(t)
	if got := e.resolveTTL(0); got != time.Hour {
		t.Fatalf("default ttl = %v", got)
	}
	if got := e.resolveTTL(24 * time.Hour); got != 8*time.Hour {
		t.Fatalf("capped ttl = %v", got)
	}
}
