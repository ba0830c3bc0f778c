package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"chronicle/internal/domain"
)

func marshalTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil
	}
	return tags
}

func (r Repo) InsertAct(ctx context.Context, tx *sql.Tx, a domain.Act) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO acts(id,type,title,cycle,status,lineage_tags,payload_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Type, a.Title, a.Cycle, a.Status, marshalTags(a.LineageTags), nullableStringPtr(a.PayloadJSON), a.CreatedAt, a.UpdatedAt)
	return err
}

const actColumns = `id,type,title,cycle,status,lineage_tags,payload_json,created_at,updated_at`

func scanAct(scan func(...any) error) (domain.Act, error) {
	var a domain.Act
	var tags, payload sql.NullString
	err := scan(&a.ID, &a.Type, &a.Title, &a.Cycle, &a.Status, &tags, &payload, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.LineageTags = unmarshalTags(tags)
	if payload.Valid {
		a.PayloadJSON = &payload.String
	}
	return a, nil
}

func (r Repo) GetAct(ctx context.Context, id string) (domain.Act, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actColumns+` FROM acts WHERE id=?`, id)
	return scanAct(row.Scan)
}

func (r Repo) GetActTx(ctx context.Context, tx *sql.Tx, id string) (domain.Act, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+actColumns+` FROM acts WHERE id=?`, id)
	return scanAct(row.Scan)
}

type ActFilters struct {
	Type            string
	Status          string
	Cycle           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListActs(ctx context.Context, f ActFilters) ([]domain.Act, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Cycle != "" {
		clauses = append(clauses, "cycle=?")
		args = append(args, f.Cycle)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actColumns + ` FROM acts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Act
	for rows.Next() {
		a, err := scanAct(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActsByType feeds the dashboard index aggregate, optionally windowed
// by creation time.
func (r Repo) CountActsByType(ctx context.Context, from, to string) (map[string]int, error) {
	query := `SELECT type, count(*) FROM acts WHERE 1=1`
	args := []any{}
	if from != "" {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND created_at <= ?`
		args = append(args, to)
	}
	query += ` GROUP BY type`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var actType string
		var count int
		if err := rows.Scan(&actType, &count); err != nil {
			return nil, err
		}
		res[actType] = count
	}
	return res, rows.Err()
}

// MarkActSealedTx flips the Act to sealed, guarded so a second sealer sees
// zero rows affected instead of silently re-updating.
func (r Repo) MarkActSealedTx(ctx context.Context, tx *sql.Tx, actID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE acts SET status=?, updated_at=? WHERE id=? AND status != ?`,
		domain.ActSealed, updatedAt, actID, domain.ActSealed)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// InsertSealTx relies on the UNIQUE(act_id) constraint to guarantee a single
// seal per act under concurrent callers.
func (r Repo) InsertSealTx(ctx context.Context, tx *sql.Tx, s domain.Seal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO seals(id,act_id,seal_code,stamped_by,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.ActID, s.SealCode, nullableStringPtr(s.StampedBy), s.CreatedAt)
	return err
}

func scanSeal(scan func(...any) error) (domain.Seal, error) {
	var s domain.Seal
	var stampedBy sql.NullString
	err := scan(&s.ID, &s.ActID, &s.SealCode, &stampedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if stampedBy.Valid {
		s.StampedBy = &stampedBy.String
	}
	return s, nil
}

func (r Repo) GetSealByAct(ctx context.Context, actID string) (domain.Seal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,act_id,seal_code,stamped_by,created_at FROM seals WHERE act_id=?`, actID)
	return scanSeal(row.Scan)
}

func (r Repo) GetSealByActTx(ctx context.Context, tx *sql.Tx, actID string) (domain.Seal, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,act_id,seal_code,stamped_by,created_at FROM seals WHERE act_id=?`, actID)
	return scanSeal(row.Scan)
}
