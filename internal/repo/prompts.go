package repo

import (
	"context"
	"database/sql"
	"strings"

	"chronicle/internal/domain"
)

func (r Repo) InsertPrompt(ctx context.Context, tx *sql.Tx, p domain.Prompt) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prompts(id,dashboard_id,issuer_id,title,body,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, nullable(p.DashboardID), p.IssuerID, p.Title, nullable(p.Body), p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPrompt(scan func(...any) error) (domain.Prompt, error) {
	var p domain.Prompt
	var dashboardID, body sql.NullString
	err := scan(&p.ID, &dashboardID, &p.IssuerID, &p.Title, &body, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if dashboardID.Valid {
		p.DashboardID = dashboardID.String
	}
	if body.Valid {
		p.Body = body.String
	}
	return p, nil
}

const promptColumns = `id,dashboard_id,issuer_id,title,body,status,created_at,updated_at`

func (r Repo) GetPrompt(ctx context.Context, id string) (domain.Prompt, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id=?`, id)
	return scanPrompt(row.Scan)
}

func (r Repo) GetPromptTx(ctx context.Context, tx *sql.Tx, id string) (domain.Prompt, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id=?`, id)
	return scanPrompt(row.Scan)
}

func (r Repo) ListPrompts(ctx context.Context, status string, limit int) ([]domain.Prompt, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePromptStatusTx moves a prompt's status guarded on its allowed source
// statuses. Zero rows affected means the prompt was in none of them.
func (r Repo) UpdatePromptStatusTx(ctx context.Context, tx *sql.Tx, id, toStatus, updatedAt string, fromStatuses ...string) (bool, error) {
	placeholders := make([]string, len(fromStatuses))
	args := []any{toStatus, updatedAt, id}
	for i, s := range fromStatuses {
		placeholders[i] = "?"
		args = append(args, s)
	}
	query := `UPDATE prompts SET status=?, updated_at=? WHERE id=? AND status IN (` + strings.Join(placeholders, ",") + `)`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approvals(id,prompt_id,approver_id,decision,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.PromptID, a.ApproverID, a.Decision, a.CreatedAt)
	return err
}

func (r Repo) ListApprovals(ctx context.Context, promptID string) ([]domain.Approval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,prompt_id,approver_id,decision,created_at FROM approvals WHERE prompt_id=? ORDER BY created_at ASC, id ASC`, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.PromptID, &a.ApproverID, &a.Decision, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
