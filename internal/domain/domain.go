package domain

// Lease statuses. A lease past its expiry is treated as inactive for
// conflict checks even before a sweep marks it expired.
const (
	LeaseActive   = "active"
	LeaseReleased = "released"
	LeaseExpired  = "expired"
	LeaseRevoked  = "revoked"
)

type Lease struct {
	ID            string   `json:"id"`
	Actor         string   `json:"actor"`
	Branch        string   `json:"branch,omitempty"`
	Scope         []string `json:"scope"`
	Intent        string   `json:"intent,omitempty"`
	Status        string   `json:"status" enum:"active,released,expired,revoked"`
	IssuedAt      string   `json:"issued_at" format:"date-time"`
	ExpiresAt     string   `json:"expires_at" format:"date-time"`
	LastRenewedAt *string  `json:"last_renewed_at,omitempty" format:"date-time"`
}

// Task statuses.
const (
	TaskPending    = "pending"
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
)

// Task priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// PriorityRank maps a priority to its sort rank (critical=0 .. low=3).
// Unknown priorities sort last.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Scope       []string `json:"scope,omitempty"`
	Priority    string   `json:"priority" enum:"critical,high,medium,low"`
	Status      string   `json:"status" enum:"pending,assigned,in_progress,completed,blocked"`
	AssignedTo  *string  `json:"assigned_to,omitempty"`
	Branch      string   `json:"branch,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Queue item statuses.
const (
	QueueQueued           = "queued"
	QueueUnderReview      = "under_review"
	QueueApproved         = "approved"
	QueueChangesRequested = "changes_requested"
	QueueReviewing        = "reviewing"
	QueueTesting          = "testing"
	QueueMerged           = "merged"
	QueueBlocked          = "blocked"
	QueueReverted         = "reverted"
)

type QueueItem struct {
	ID         string   `json:"id"`
	Owner      string   `json:"owner"`
	Branch     string   `json:"branch"`
	Scope      []string `json:"scope,omitempty"`
	Deps       []string `json:"deps,omitempty"`
	Risk       string   `json:"risk,omitempty"`
	Status     string   `json:"status" enum:"queued,under_review,approved,changes_requested,reviewing,testing,merged,blocked,reverted"`
	LeaseID    *string  `json:"lease_id,omitempty"`
	EnqueuedAt string   `json:"enqueued_at" format:"date-time"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

type Message struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject,omitempty"`
	Body      string  `json:"body"`
	SentAt    string  `json:"sent_at" format:"date-time"`
	ReadAt    *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
