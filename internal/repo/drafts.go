package repo

import (
	"context"
	"database/sql"
	"strings"

	"chronicle/internal/domain"
)

// InsertDraft relies on the UNIQUE(task_id) constraint for the one-draft-
// per-task invariant; callers map the violation to DuplicateDraft.
func (r Repo) InsertDraft(ctx context.Context, tx *sql.Tx, d domain.MessageDraft) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO message_drafts(id,task_id,subject,body_text,body_html,recipient_email,recipient_type,metadata_json,status,sent_at,sent_by_user_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TaskID, d.Subject, d.BodyText, nullableStringPtr(d.BodyHTML), d.RecipientEmail,
		nullable(d.RecipientType), nullableStringPtr(d.MetadataJSON), d.Status,
		nullableStringPtr(d.SentAt), nullableStringPtr(d.SentByUserID), d.CreatedAt)
	return err
}

const draftColumns = `id,task_id,subject,body_text,body_html,recipient_email,recipient_type,metadata_json,status,sent_at,sent_by_user_id,created_at`

func scanDraft(scan func(...any) error) (domain.MessageDraft, error) {
	var d domain.MessageDraft
	var bodyHTML, recipientType, metadata, sentAt, sentBy sql.NullString
	err := scan(&d.ID, &d.TaskID, &d.Subject, &d.BodyText, &bodyHTML, &d.RecipientEmail,
		&recipientType, &metadata, &d.Status, &sentAt, &sentBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if bodyHTML.Valid {
		d.BodyHTML = &bodyHTML.String
	}
	if recipientType.Valid {
		d.RecipientType = recipientType.String
	}
	if metadata.Valid {
		d.MetadataJSON = &metadata.String
	}
	if sentAt.Valid {
		d.SentAt = &sentAt.String
	}
	if sentBy.Valid {
		d.SentByUserID = &sentBy.String
	}
	return d, nil
}

func (r Repo) GetDraft(ctx context.Context, id string) (domain.MessageDraft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM message_drafts WHERE id=?`, id)
	return scanDraft(row.Scan)
}

func (r Repo) GetDraftTx(ctx context.Context, tx *sql.Tx, id string) (domain.MessageDraft, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM message_drafts WHERE id=?`, id)
	return scanDraft(row.Scan)
}

func (r Repo) GetDraftByTask(ctx context.Context, taskID string) (domain.MessageDraft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM message_drafts WHERE task_id=?`, taskID)
	return scanDraft(row.Scan)
}

func (r Repo) ListDrafts(ctx context.Context, status string, limit int) ([]domain.MessageDraft, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + draftColumns + ` FROM message_drafts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MessageDraft
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDraftStatusTx moves a draft out of a non-terminal status. SENT
// stamps happen in the same write.
func (r Repo) UpdateDraftStatusTx(ctx context.Context, tx *sql.Tx, id, toStatus string, sentAt, sentByUserID *string) (bool, error) {
	fields := []string{"status=?"}
	args := []any{toStatus}
	if sentAt != nil {
		fields = append(fields, "sent_at=?")
		args = append(args, *sentAt)
	}
	if sentByUserID != nil {
		fields = append(fields, "sent_by_user_id=?")
		args = append(args, *sentByUserID)
	}
	args = append(args, id, domain.DraftSent, domain.DraftDiscarded)
	res, err := tx.ExecContext(ctx, `UPDATE message_drafts SET `+strings.Join(fields, ",")+` WHERE id=? AND status NOT IN (?,?)`, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
