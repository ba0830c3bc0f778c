package repo

import (
	"context"
	"database/sql"

	"chronicle/internal/domain"
)

func (r Repo) EnqueueJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,type,payload_json,status,attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		j.ID, j.Type, j.PayloadJSON, j.Status, j.Attempts, j.CreatedAt, j.UpdatedAt)
	return err
}

func scanJob(scan func(...any) error) (domain.Job, error) {
	var j domain.Job
	err := scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,type,payload_json,status,attempts,created_at,updated_at FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

// ClaimNextJob atomically moves the oldest queued job to running. The guarded
// UPDATE makes concurrent workers race safely; a loser just retries the next
// candidate on its following poll.
func (r Repo) ClaimNextJob(ctx context.Context, now string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,type,payload_json,status,attempts,created_at,updated_at FROM jobs WHERE status=? ORDER BY created_at ASC, id ASC LIMIT 1`, domain.JobQueued)
	j, err := scanJob(row.Scan)
	if err != nil {
		return j, err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET status=?, attempts=attempts+1, updated_at=? WHERE id=? AND status=?`,
		domain.JobRunning, now, j.ID, domain.JobQueued)
	if err != nil {
		return j, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return j, err
	}
	if affected == 0 {
		return j, ErrNotFound
	}
	j.Status = domain.JobRunning
	j.Attempts++
	j.UpdatedAt = now
	return j, nil
}

func (r Repo) MarkJobDone(ctx context.Context, id, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, domain.JobDone, now, id)
	return err
}

// RequeueJob puts a failed job back in the queue, or parks it as failed once
// attempts reach the cap.
func (r Repo) RequeueJob(ctx context.Context, id, now string, maxAttempts int) error {
	j, err := r.GetJob(ctx, id)
	if err != nil {
		return err
	}
	status := domain.JobQueued
	if j.Attempts >= maxAttempts {
		status = domain.JobFailed
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, status, now, id)
	return err
}

func (r Repo) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
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
