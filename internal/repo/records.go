package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"phaseline/internal/domain"
)

// RecordRow is a stored phase record: a JSON document plus the columns the
// store indexes and conditions writes on.
type RecordRow struct {
	Kind      domain.RecordKind
	ID        string
	OrgID     string
	ProjectID string
	Doc       []byte
	Version   int
	CreatedAt string
	UpdatedAt string
}

const recordColumns = `kind,id,org_id,project_id,doc_json,version,created_at,updated_at`

func scanRecord(row scanner) (RecordRow, error) {
	var (
		rec RecordRow
		doc string
	)
	if err := row.Scan(&rec.Kind, &rec.ID, &rec.OrgID, &rec.ProjectID, &doc, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, err
	}
	rec.Doc = []byte(doc)
	return rec, nil
}

func (r Repo) InsertRecord(ctx context.Context, rec RecordRow) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO phase_records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rec.Kind, rec.ID, rec.OrgID, rec.ProjectID, string(rec.Doc), rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.Conflict(rec.Kind.Label(), rec.ID)
		}
		return fmt.Errorf("insert %s: %w", rec.Kind, err)
	}
	return nil
}

func (r Repo) GetRecord(ctx context.Context, kind domain.RecordKind, orgID, projectID, id string) (RecordRow, error) {
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM phase_records WHERE kind=? AND org_id=? AND project_id=? AND id=?`,
		kind, orgID, projectID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RecordRow{}, domain.NotFound(kind.Label(), id)
	}
	return rec, err
}

// ListRecords returns the project's records of one kind in creation order.
func (r Repo) ListRecords(ctx context.Context, kind domain.RecordKind, orgID, projectID string) ([]RecordRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM phase_records WHERE kind=? AND org_id=? AND project_id=? ORDER BY created_at, id`,
		kind, orgID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RecordRow
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) CountRecords(ctx context.Context, kind domain.RecordKind, orgID, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM phase_records WHERE kind=? AND org_id=? AND project_id=?`, kind, orgID, projectID).Scan(&n)
	return n, err
}

// UpdateRecord replaces the document if the stored version equals
// expectedVersion, bumping it to expectedVersion+1.
func (r Repo) UpdateRecord(ctx context.Context, rec RecordRow, expectedVersion int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE phase_records SET doc_json=?,version=?,updated_at=? WHERE kind=? AND org_id=? AND project_id=? AND id=? AND version=?`,
		string(rec.Doc), expectedVersion+1, rec.UpdatedAt, rec.Kind, rec.OrgID, rec.ProjectID, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, `SELECT 1 FROM phase_records WHERE kind=? AND org_id=? AND project_id=? AND id=?`,
			rec.Kind.Label(), rec.ID, rec.Kind, rec.OrgID, rec.ProjectID, rec.ID)
	}
	return nil
}

// DeleteRecord removes a record, conditioned on its version like UpdateRecord.
func (r Repo) DeleteRecord(ctx context.Context, kind domain.RecordKind, orgID, projectID, id string, expectedVersion int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM phase_records WHERE kind=? AND org_id=? AND project_id=? AND id=? AND version=?`,
		kind, orgID, projectID, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, `SELECT 1 FROM phase_records WHERE kind=? AND org_id=? AND project_id=? AND id=?`,
			kind.Label(), id, kind, orgID, projectID, id)
	}
	return nil
}
