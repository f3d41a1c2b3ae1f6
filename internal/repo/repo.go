package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"crewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier lets read helpers run either on the pool or inside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- leases ---

const leaseCols = `id,actor,branch,scope_json,intent,status,issued_at,expires_at,last_renewed_at`

func scanLease(row interface{ Scan(...any) error }) (domain.Lease, error) {
	var l domain.Lease
	var branch, intent, scopeJSON, lastRenewed sql.NullString
	err := row.Scan(&l.ID, &l.Actor, &branch, &scopeJSON, &intent, &l.Status, &l.IssuedAt, &l.ExpiresAt, &lastRenewed)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if branch.Valid {
		l.Branch = branch.String
	}
	if intent.Valid {
		l.Intent = intent.String
	}
	if lastRenewed.Valid {
		l.LastRenewedAt = &lastRenewed.String
	}
	if scopeJSON.Valid {
		if err := json.Unmarshal([]byte(scopeJSON.String), &l.Scope); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (r Repo) InsertLease(ctx context.Context, tx *sql.Tx, l domain.Lease) error {
	scopeJSON, err := json.Marshal(l.Scope)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO leases(`+leaseCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Actor, nullable(l.Branch), string(scopeJSON), nullable(l.Intent), l.Status, l.IssuedAt, l.ExpiresAt, nullableStringPtr(l.LastRenewedAt))
	return err
}

func (r Repo) UpdateLease(ctx context.Context, tx *sql.Tx, l domain.Lease) error {
	res, err := tx.ExecContext(ctx, `UPDATE leases SET status=?, expires_at=?, last_renewed_at=? WHERE id=?`,
		l.Status, l.ExpiresAt, nullableStringPtr(l.LastRenewedAt), l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetLease(ctx context.Context, id string) (domain.Lease, error) {
	return scanLease(r.DB.QueryRowContext(ctx, `SELECT `+leaseCols+` FROM leases WHERE id=?`, id))
}

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lease, error) {
	return scanLease(tx.QueryRowContext(ctx, `SELECT `+leaseCols+` FROM leases WHERE id=?`, id))
}

func (r Repo) ListLeases(ctx context.Context, status string) ([]domain.Lease, error) {
	return listLeases(ctx, r.DB, status)
}

func (r Repo) ListLeasesTx(ctx context.Context, tx *sql.Tx, status string) ([]domain.Lease, error) {
	return listLeases(ctx, tx, status)
}

func listLeases(ctx context.Context, q querier, status string) ([]domain.Lease, error) {
	query := `SELECT ` + leaseCols + ` FROM leases`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY issued_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- tasks ---

const taskCols = `id,title,scope_json,priority,status,assigned_to,branch,notes,created_at,updated_at,completed_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var scopeJSON, assignedTo, branch, notes, completedAt sql.NullString
	err := row.Scan(&t.ID, &t.Title, &scopeJSON, &t.Priority, &t.Status, &assignedTo, &branch, &notes, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if branch.Valid {
		t.Branch = branch.String
	}
	if notes.Valid {
		t.Notes = notes.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if scopeJSON.Valid {
		if err := json.Unmarshal([]byte(scopeJSON.String), &t.Scope); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	scopeJSON, err := marshalScope(t.Scope)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, scopeJSON, t.Priority, t.Status, nullableStringPtr(t.AssignedTo), nullable(t.Branch), nullable(t.Notes),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, assigned_to=?, branch=?, notes=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.AssignedTo), nullable(t.Branch), nullable(t.Notes), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, status string) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextPendingTask returns the oldest pending task within the highest
// priority tier: critical before high before medium before low, FIFO by
// creation time inside a tier.
func (r Repo) NextPendingTask(ctx context.Context) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status='pending'
		ORDER BY
			CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
			created_at ASC,
			id ASC
		LIMIT 1`)
	return scanTask(row)
}

// --- queue ---

const queueCols = `id,owner,branch,scope_json,risk,status,lease_id,enqueued_at,updated_at`

func scanQueueItem(row interface{ Scan(...any) error }) (domain.QueueItem, error) {
	var it domain.QueueItem
	var scopeJSON, risk, leaseID sql.NullString
	err := row.Scan(&it.ID, &it.Owner, &it.Branch, &scopeJSON, &risk, &it.Status, &leaseID, &it.EnqueuedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if risk.Valid {
		it.Risk = risk.String
	}
	if leaseID.Valid {
		it.LeaseID = &leaseID.String
	}
	if scopeJSON.Valid {
		if err := json.Unmarshal([]byte(scopeJSON.String), &it.Scope); err != nil {
			return it, err
		}
	}
	return it, nil
}

func (r Repo) InsertQueueItem(ctx context.Context, tx *sql.Tx, it domain.QueueItem) error {
	scopeJSON, err := marshalScope(it.Scope)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO queue_items(`+queueCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Owner, it.Branch, scopeJSON, nullable(it.Risk), it.Status, nullableStringPtr(it.LeaseID), it.EnqueuedAt, it.UpdatedAt); err != nil {
		return err
	}
	for _, d := range it.Deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO queue_deps(item_id, depends_on_item_id) VALUES (?,?)`, it.ID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) SetQueueItemStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE queue_items SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetQueueItem(ctx context.Context, id string) (domain.QueueItem, error) {
	return r.getQueueItem(ctx, r.DB, id)
}

func (r Repo) GetQueueItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.QueueItem, error) {
	return r.getQueueItem(ctx, tx, id)
}

func (r Repo) getQueueItem(ctx context.Context, q querier, id string) (domain.QueueItem, error) {
	it, err := scanQueueItem(q.QueryRowContext(ctx, `SELECT `+queueCols+` FROM queue_items WHERE id=?`, id))
	if err != nil {
		return it, err
	}
	it.Deps, err = listQueueDeps(ctx, q, id)
	return it, err
}

func listQueueDeps(ctx context.Context, q querier, itemID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT depends_on_item_id FROM queue_deps WHERE item_id=? ORDER BY depends_on_item_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (r Repo) ListQueue(ctx context.Context, statuses ...string) ([]domain.QueueItem, error) {
	return r.listQueue(ctx, r.DB, statuses...)
}

func (r Repo) ListQueueTx(ctx context.Context, tx *sql.Tx, statuses ...string) ([]domain.QueueItem, error) {
	return r.listQueue(ctx, tx, statuses...)
}

func (r Repo) listQueue(ctx context.Context, q querier, statuses ...string) ([]domain.QueueItem, error) {
	query := `SELECT ` + queueCols + ` FROM queue_items`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY enqueued_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Deps, err = listQueueDeps(ctx, q, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// QueueStatuses returns the status of every known queue item, for
// dependency resolution.
func (r Repo) QueueStatuses(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, status FROM queue_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		res[id] = status
	}
	return res, rows.Err()
}

// --- messages ---

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id,sender,recipient,subject,body,sent_at,read_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Sender, m.Recipient, nullable(m.Subject), m.Body, m.SentAt, nullableStringPtr(m.ReadAt))
	return err
}

func (r Repo) MarkMessageRead(ctx context.Context, tx *sql.Tx, id, readAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE messages SET read_at=? WHERE id=? AND read_at IS NULL`, readAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListMessages(ctx context.Context, recipient string, unreadOnly bool) ([]domain.Message, error) {
	clauses := []string{"recipient=?"}
	args := []any{recipient}
	if unreadOnly {
		clauses = append(clauses, "read_at IS NULL")
	}
	query := `SELECT id,sender,recipient,subject,body,sent_at,read_at FROM messages WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY sent_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var subject, readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &subject, &m.Body, &m.SentAt, &readAt); err != nil {
			return nil, err
		}
		if subject.Valid {
			m.Subject = subject.String
		}
		if readAt.Valid {
			m.ReadAt = &readAt.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func marshalScope(scope []string) (any, error) {
	if len(scope) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(scope)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
