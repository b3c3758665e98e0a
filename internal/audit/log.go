package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
)

// Log is the append-only audit store. Entries are never updated or deleted.
type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append stores entry, assigning its id, sequence and timestamp when unset.
func (l Log) Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if entry.OrgID == "" || entry.Action == "" || entry.EntityType == "" {
		return entry, fmt.Errorf("audit entry needs org_id, action and entity_type")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		now := time.Now
		if l.Now != nil {
			now = l.Now
		}
		entry.Timestamp = now().UTC().Format(time.RFC3339)
	}
	changes, err := marshalOptional(entry.Changes, len(entry.Changes) > 0)
	if err != nil {
		return entry, fmt.Errorf("marshal audit changes: %w", err)
	}
	meta, err := marshalOptional(entry.Metadata, len(entry.Metadata) > 0)
	if err != nil {
		return entry, fmt.Errorf("marshal audit metadata: %w", err)
	}
	res, err := l.DB.ExecContext(ctx, `INSERT INTO audit_log(id,org_id,project_id,ts,actor_id,actor_name,actor_role,action,entity_type,entity_id,changes_json,metadata_json) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.OrgID, nullable(entry.ProjectID), entry.Timestamp, entry.ActorID, nullable(entry.ActorName), nullable(entry.ActorRole),
		entry.Action, entry.EntityType, entry.EntityID, changes, meta)
	if err != nil {
		return entry, fmt.Errorf("insert audit entry: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = seq
	}
	return entry, nil
}

// Filter selects entries for List. Cursor is exclusive: only entries with a
// smaller Seq are returned. Limit <= 0 returns every match.
type Filter struct {
	OrgID      string
	ProjectID  string
	Action     string
	EntityType string
	EntityID   string
	Cursor     int64
	Limit      int
}

// List returns matching entries newest first.
func (l Log) List(ctx context.Context, f Filter) ([]domain.AuditLogEntry, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "seq<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM audit_log WHERE %s ORDER BY seq DESC LIMIT ?`, entryColumns, strings.Join(clauses, " AND "))
	return l.query(ctx, query, args...)
}

// After returns entries with Seq greater than cursor in ascending order,
// across all organizations.
func (l Log) After(ctx context.Context, cursor int64, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.query(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
}

// LatestSeq returns the highest sequence number written so far.
func (l Log) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := l.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM audit_log`).Scan(&seq)
	return seq, err
}

const entryColumns = `seq,id,org_id,COALESCE(project_id,''),ts,actor_id,COALESCE(actor_name,''),COALESCE(actor_role,''),action,entity_type,entity_id,changes_json,metadata_json`

func (l Log) query(ctx context.Context, query string, args ...any) ([]domain.AuditLogEntry, error) {
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLogEntry
	for rows.Next() {
		var (
			e             domain.AuditLogEntry
			changes, meta sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.OrgID, &e.ProjectID, &e.Timestamp, &e.ActorID, &e.ActorName, &e.ActorRole,
			&e.Action, &e.EntityType, &e.EntityID, &changes, &meta); err != nil {
			return nil, err
		}
		if changes.Valid {
			if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
				return nil, fmt.Errorf("decode audit changes %s: %w", e.ID, err)
			}
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata %s: %w", e.ID, err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func marshalOptional(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
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
