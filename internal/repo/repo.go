package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"phaseline/internal/domain"
)

// Repo is the SQLite persistence layer for projects, phase records and API keys.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

type scanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id,org_id,name,COALESCE(description,''),status,current_phase,phases_json,course_ids_json,learning_path_ids_json,assessment_ids_json,created_by,created_at,updated_at,COALESCE(last_modified_by,''),version`

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                                domain.Project
		phases, courses, paths, assesses string
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.Status, &p.CurrentPhase,
		&phases, &courses, &paths, &assesses,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.LastModifiedBy, &p.Version)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(phases), &p.Phases); err != nil {
		return p, fmt.Errorf("decode phases of project %s: %w", p.ID, err)
	}
	cols := []struct {
		raw string
		dst *[]string
	}{
		{courses, &p.CreatedCourseIDs},
		{paths, &p.CreatedLearningPathIDs},
		{assesses, &p.CreatedAssessmentIDs},
	}
	for _, c := range cols {
		ids, err := unmarshalStringSlice(c.raw)
		if err != nil {
			return p, fmt.Errorf("decode artifacts of project %s: %w", p.ID, err)
		}
		*c.dst = ids
	}
	return p, nil
}

type projectArgs struct {
	phases, courses, paths, assessments string
}

func encodeProject(p domain.Project) (projectArgs, error) {
	var a projectArgs
	phases, err := json.Marshal(p.Phases)
	if err != nil {
		return a, fmt.Errorf("encode phases: %w", err)
	}
	a.phases = string(phases)
	if a.courses, err = marshalStringSlice(p.CreatedCourseIDs); err != nil {
		return a, err
	}
	if a.paths, err = marshalStringSlice(p.CreatedLearningPathIDs); err != nil {
		return a, err
	}
	if a.assessments, err = marshalStringSlice(p.CreatedAssessmentIDs); err != nil {
		return a, err
	}
	return a, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	a, err := encodeProject(p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,description,status,current_phase,phases_json,course_ids_json,learning_path_ids_json,assessment_ids_json,created_by,created_at,updated_at,last_modified_by,version) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, nullable(p.Description), p.Status, p.CurrentPhase, a.phases, a.courses, a.paths, a.assessments,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt, nullable(p.LastModifiedBy), p.Version)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, orgID, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE org_id=? AND id=?`, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, domain.NotFound("project", id)
	}
	return p, err
}

// ListProjects returns the organization's projects, newest first. An empty
// status matches every status.
func (r Repo) ListProjects(ctx context.Context, orgID, status string) ([]domain.Project, error) {
	clauses := []string{"org_id=?"}
	args := []any{orgID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE %s ORDER BY created_at DESC, id`, projectColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject writes p only if the stored version still equals
// expectedVersion. The stored version becomes expectedVersion+1.
func (r Repo) UpdateProject(ctx context.Context, p domain.Project, expectedVersion int) error {
	a, err := encodeProject(p)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET name=?,description=?,status=?,current_phase=?,phases_json=?,course_ids_json=?,learning_path_ids_json=?,assessment_ids_json=?,updated_at=?,last_modified_by=?,version=? WHERE org_id=? AND id=? AND version=?`,
		p.Name, nullable(p.Description), p.Status, p.CurrentPhase, a.phases, a.courses, a.paths, a.assessments,
		p.UpdatedAt, nullable(p.LastModifiedBy), expectedVersion+1, p.OrgID, p.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, `SELECT 1 FROM projects WHERE org_id=? AND id=?`, "project", p.ID, p.OrgID, p.ID)
	}
	return nil
}

// DeleteProject removes the project and every phase record it owns.
func (r Repo) DeleteProject(ctx context.Context, orgID, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM phase_records WHERE org_id=? AND project_id=?`, orgID, id); err != nil {
		return fmt.Errorf("delete phase records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE org_id=? AND id=?`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("project", id)
	}
	return tx.Commit()
}

// missOrConflict decides why a conditioned write touched no rows.
func (r Repo) missOrConflict(ctx context.Context, existsQuery, entity, id string, args ...any) error {
	var one int
	err := r.DB.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(entity, id)
	}
	if err != nil {
		return err
	}
	return domain.Conflict(entity, id)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalStringSlice(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStringSlice(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
