// Package phaselinesdk is a small client for the phaseline HTTP API.
package phaselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal phaseline HTTP API client scoped to one organization.
type Client struct {
	BaseURL     string
	OrgID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// PhaseStatus is one phase entry of a project.
type PhaseStatus struct {
	Status      string         `json:"status"`
	StartedAt   *string        `json:"started_at,omitempty"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID                     string                 `json:"id"`
	OrgID                  string                 `json:"org_id"`
	Name                   string                 `json:"name"`
	Description            string                 `json:"description,omitempty"`
	Status                 string                 `json:"status"`
	Phases                 map[string]PhaseStatus `json:"phases"`
	CurrentPhase           string                 `json:"current_phase"`
	CreatedCourseIDs       []string               `json:"created_course_ids"`
	CreatedLearningPathIDs []string               `json:"created_learning_path_ids"`
	CreatedAssessmentIDs   []string               `json:"created_assessment_ids"`
	CreatedBy              string                 `json:"created_by"`
	CreatedAt              string                 `json:"created_at"`
	UpdatedAt              string                 `json:"updated_at"`
	Version                int                    `json:"version"`
}

// AuditEntry represents an audit log entry.
type AuditEntry struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	OrgID      string            `json:"org_id"`
	ProjectID  string            `json:"project_id,omitempty"`
	Timestamp  string            `json:"timestamp"`
	ActorID    string            `json:"actor_id"`
	ActorName  string            `json:"actor_name,omitempty"`
	ActorRole  string            `json:"actor_role,omitempty"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Changes    []FieldChange     `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
}

// AuditPage wraps audit listings with a cursor for the next (older) page.
type AuditPage struct {
	Items      []AuditEntry `json:"items"`
	NextCursor int64        `json:"next_cursor,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code, e.g.
// "concurrent_modification".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateProject creates a project with all phases pending.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.orgPath("projects"), map[string]any{
		"name":        name,
		"description": description,
	}, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, ""), nil, &resp)
	return resp, err
}

// ListProjects lists projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	endpoint := c.orgPath("projects")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, p Project, name, description *string) (Project, error) {
	body := map[string]any{"version": p.Version}
	if name != nil {
		body["name"] = *name
	}
	if description != nil {
		body["description"] = *description
	}
	var resp Project
	err := c.do(ctx, http.MethodPatch, c.projectPath(p.ID, ""), body, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath(projectID, ""), nil, nil)
}

// StartPhase starts phase on the caller's snapshot p.
func (c *Client) StartPhase(ctx context.Context, p Project, phase string) (Project, error) {
	return c.projectAction(ctx, p, "phases/"+url.PathEscape(phase)+"/start", nil)
}

// CompletePhase completes phase with an optional JSON object output.
func (c *Client) CompletePhase(ctx context.Context, p Project, phase string, output map[string]any) (Project, error) {
	body := map[string]any{}
	if output != nil {
		body["output"] = output
	}
	return c.projectAction(ctx, p, "phases/"+url.PathEscape(phase)+"/complete", body)
}

func (c *Client) SkipPhase(ctx context.Context, p Project, phase, reason string) (Project, error) {
	return c.projectAction(ctx, p, "phases/"+url.PathEscape(phase)+"/skip", map[string]any{"reason": reason})
}

func (c *Client) Archive(ctx context.Context, p Project) (Project, error) {
	return c.projectAction(ctx, p, "archive", nil)
}

func (c *Client) Activate(ctx context.Context, p Project) (Project, error) {
	return c.projectAction(ctx, p, "activate", nil)
}

// LinkArtifact links a course, learning_path or assessment id.
func (c *Client) LinkArtifact(ctx context.Context, p Project, kind, artifactID string) (Project, error) {
	return c.projectAction(ctx, p, "artifacts", map[string]any{
		"kind":        kind,
		"artifact_id": artifactID,
	})
}

func (c *Client) UnlinkArtifact(ctx context.Context, p Project, kind, artifactID string) (Project, error) {
	endpoint := c.projectPath(p.ID, fmt.Sprintf("artifacts/%s/%s?version=%d", url.PathEscape(kind), url.PathEscape(artifactID), p.Version))
	var resp Project
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Reconcile(ctx context.Context, p Project, phase string) (Project, error) {
	return c.projectAction(ctx, p, "reconcile/"+url.PathEscape(phase), nil)
}

// CreateRecord posts a record document of kind and decodes the stored record into out.
func (c *Client) CreateRecord(ctx context.Context, projectID, kind string, record any, out any) error {
	return c.do(ctx, http.MethodPost, c.projectPath(projectID, "records/"+url.PathEscape(kind)), record, out)
}

// ListRecords returns the raw record documents of kind.
func (c *Client) ListRecords(ctx context.Context, projectID, kind string) ([]json.RawMessage, error) {
	var resp []json.RawMessage
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "records/"+url.PathEscape(kind)), nil, &resp)
	return resp, err
}

// PatchRecord merges patch into the record; version 0 skips the staleness check.
func (c *Client) PatchRecord(ctx context.Context, projectID, kind, recordID string, version int, patch map[string]any, out any) error {
	endpoint := c.projectPath(projectID, fmt.Sprintf("records/%s/%s?version=%d", url.PathEscape(kind), url.PathEscape(recordID), version))
	return c.do(ctx, http.MethodPatch, endpoint, patch, out)
}

// ApproveStage approves one stage of a governance record.
func (c *Client) ApproveStage(ctx context.Context, projectID, governanceID, stageID string, version int, notes string, out any) error {
	return c.decide(ctx, projectID, governanceID, stageID, "approve", version, notes, out)
}

func (c *Client) RejectStage(ctx context.Context, projectID, governanceID, stageID string, version int, notes string, out any) error {
	return c.decide(ctx, projectID, governanceID, stageID, "reject", version, notes, out)
}

// Overview decodes the project overview into out.
func (c *Client) Overview(ctx context.Context, projectID string, out any) error {
	return c.do(ctx, http.MethodGet, c.projectPath(projectID, "overview"), nil, out)
}

// Audit returns one page of the project's audit log, newest first. A zero
// cursor starts at the newest entry.
func (c *Client) Audit(ctx context.Context, projectID string, limit int, cursor int64, action string) (AuditPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	if action != "" {
		q.Set("action", action)
	}
	endpoint := c.projectPath(projectID, "audit")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp AuditPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) decide(ctx context.Context, projectID, governanceID, stageID, verb string, version int, notes string, out any) error {
	endpoint := c.projectPath(projectID, fmt.Sprintf("governance/%s/stages/%s/%s", url.PathEscape(governanceID), url.PathEscape(stageID), verb))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"version": version, "notes": notes}, out)
}

func (c *Client) projectAction(ctx context.Context, p Project, action string, body map[string]any) (Project, error) {
	if body == nil {
		body = map[string]any{}
	}
	body["version"] = p.Version
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(p.ID, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orgPath(p string) string {
	return fmt.Sprintf("v0/orgs/%s/%s", url.PathEscape(c.OrgID), strings.TrimLeft(p, "/"))
}

func (c *Client) projectPath(projectID, p string) string {
	endpoint := c.orgPath("projects/" + url.PathEscape(projectID))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
