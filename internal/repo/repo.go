package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chronicle/internal/domain"
)

// Repo wraps the SQLite store. All state-machine invariants are enforced
// here with conditional writes because concurrent callers may race on the
// same row.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a unique-constraint failure from
// the sqlite driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
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

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,type,mode,priority,owner_type,owner_id,subject_ref_type,subject_ref_id,payload_json,status,due_at,scheduled_at,started_at,finished_at,source,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Type, t.Mode, nullableIntPtr(t.Priority), t.OwnerType, nullable(t.OwnerID),
		t.Subject.Type, t.Subject.ID, nullableStringPtr(t.PayloadJSON), t.Status,
		nullableStringPtr(t.DueAt), nullableStringPtr(t.ScheduledAt), nullableStringPtr(t.StartedAt),
		nullableStringPtr(t.FinishedAt), nullable(t.Source), t.CreatedAt)
	return err
}

const taskColumns = `id,type,mode,priority,owner_type,owner_id,subject_ref_type,subject_ref_id,payload_json,status,due_at,scheduled_at,started_at,finished_at,source,created_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var ownerID, payload, dueAt, scheduledAt, startedAt, finishedAt, source sql.NullString
	var priority sql.NullInt64
	err := scan(&t.ID, &t.Type, &t.Mode, &priority, &t.OwnerType, &ownerID,
		&t.Subject.Type, &t.Subject.ID, &payload, &t.Status,
		&dueAt, &scheduledAt, &startedAt, &finishedAt, &source, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if ownerID.Valid {
		t.OwnerID = ownerID.String
	}
	if payload.Valid {
		t.PayloadJSON = &payload.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if scheduledAt.Valid {
		t.ScheduledAt = &scheduledAt.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.String
	}
	if source.Valid {
		t.Source = source.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// TaskStatusUpdate carries the conditional transition write. The UPDATE is
// guarded on the expected current status; zero rows affected means a
// concurrent caller won the race.
type TaskStatusUpdate struct {
	ID          string
	FromStatus  string
	ToStatus    string
	ScheduledAt *string
	StartedAt   *string
	FinishedAt  *string
}

// UpdateTaskStatusTx performs the compare-and-swap status write. It returns
// false when the task was not in FromStatus anymore.
func (r Repo) UpdateTaskStatusTx(ctx context.Context, tx *sql.Tx, u TaskStatusUpdate) (bool, error) {
	fields := []string{"status=?"}
	args := []any{u.ToStatus}
	if u.ScheduledAt != nil {
		fields = append(fields, "scheduled_at=?")
		args = append(args, *u.ScheduledAt)
	}
	if u.StartedAt != nil {
		fields = append(fields, "started_at=?")
		args = append(args, *u.StartedAt)
	}
	if u.FinishedAt != nil {
		fields = append(fields, "finished_at=?")
		args = append(args, *u.FinishedAt)
	}
	args = append(args, u.ID, u.FromStatus)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND status=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r Repo) InsertTaskEvent(ctx context.Context, tx *sql.Tx, e domain.TaskEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_events(task_id,actor_type,actor_id,from_status,to_status,created_at) VALUES (?,?,?,?,?,?)`,
		e.TaskID, e.ActorType, e.ActorID, e.FromStatus, e.ToStatus, e.CreatedAt)
	return err
}

// ListTaskEvents returns a task's transition trail in append order.
func (r Repo) ListTaskEvents(ctx context.Context, taskID string) ([]domain.TaskEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,actor_type,actor_id,from_status,to_status,created_at FROM task_events WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskEvent
	for rows.Next() {
		var e domain.TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ActorType, &e.ActorID, &e.FromStatus, &e.ToStatus, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type TaskFilters struct {
	Status          string
	OwnerType       string
	OwnerID         string
	Type            string
	SubjectRefType  string
	SubjectRefID    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerType != "" {
		clauses = append(clauses, "owner_type=?")
		args = append(args, f.OwnerType)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.SubjectRefType != "" {
		clauses = append(clauses, "subject_ref_type=?")
		args = append(args, f.SubjectRefType)
	}
	if f.SubjectRefID != "" {
		clauses = append(clauses, "subject_ref_id=?")
		args = append(args, f.SubjectRefID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// LatestJournal returns the newest journal entries, filtered and paginated
// by descending id.
func (r Repo) LatestJournal(ctx context.Context, limit int, entryType, entityKind, entityID string) ([]domain.JournalEntry, error) {
	return r.LatestJournalFrom(ctx, limit, 0, entryType, entityKind, entityID)
}

func (r Repo) LatestJournalFrom(ctx context.Context, limit int, cursor int64, entryType, entityKind, entityID string) ([]domain.JournalEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if entryType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, entryType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM journal %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryJournal(ctx, query, args...)
}

// JournalAfter returns entries with ids greater than the cursor in ascending
// order, for webhook fan-out.
func (r Repo) JournalAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM journal WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryJournal(ctx, query, cursor, limit)
}

// LatestJournalID returns the most recent journal entry id.
func (r Repo) LatestJournalID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM journal`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryJournal(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
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
