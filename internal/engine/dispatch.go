package engine

import (
	"bytes"
	"context"
	"encoding/json"

	"phaseline/internal/domain"
)

// The by-kind entry points serve transports that address records as
// /records/{kind}; bodies and results are the records' JSON documents.

func decodeStrict(body json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Errorf(domain.KindValidationFailed, "invalid request body: %v", err)
	}
	return nil
}

func encodeResult[T any](v T, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func encodeList[T any](vs []T, err error) ([]json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func createAs[T any](body json.RawMessage, create func(T) (T, error)) (json.RawMessage, error) {
	var v T
	if err := decodeStrict(body, &v); err != nil {
		return nil, err
	}
	return encodeResult(create(v))
}

// CreateRecord creates a record of kind from its JSON document.
func (e Engine) CreateRecord(ctx context.Context, orgID, projectID string, actor domain.Actor, kind domain.RecordKind, body json.RawMessage) (json.RawMessage, error) {
	switch kind {
	case domain.KindContent:
		return createAs(body, func(v domain.Content) (domain.Content, error) { return e.AddContent(ctx, orgID, projectID, actor, v) })
	case domain.KindAnalysis:
		return createAs(body, func(v domain.NeedsAnalysis) (domain.NeedsAnalysis, error) {
			return e.CreateAnalysis(ctx, orgID, projectID, actor, v)
		})
	case domain.KindDesign:
		return createAs(body, func(v domain.CourseDesign) (domain.CourseDesign, error) {
			return e.CreateDesign(ctx, orgID, projectID, actor, v)
		})
	case domain.KindGeneration:
		return createAs(body, func(v domain.AIGeneration) (domain.AIGeneration, error) {
			return e.CreateGeneration(ctx, orgID, projectID, actor, v)
		})
	case domain.KindImplementation:
		return createAs(body, func(v domain.Implementation) (domain.Implementation, error) {
			return e.CreateImplementation(ctx, orgID, projectID, actor, v)
		})
	case domain.KindAnalytics:
		return createAs(body, func(v domain.Analytics) (domain.Analytics, error) {
			return e.CreateAnalytics(ctx, orgID, projectID, actor, v)
		})
	case domain.KindGovernance:
		return createAs(body, func(v domain.Governance) (domain.Governance, error) {
			return e.CreateGovernance(ctx, orgID, projectID, actor, v)
		})
	}
	return nil, domain.Errorf(domain.KindValidationFailed, "unknown record kind %q", kind)
}

// ListRecords returns every record of kind for the project. One-per-project
// kinds yield zero or one element.
func (e Engine) ListRecords(ctx context.Context, orgID, projectID string, kind domain.RecordKind) ([]json.RawMessage, error) {
	if _, err := e.GetProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	switch kind {
	case domain.KindContent:
		return encodeList(e.ListContent(ctx, orgID, projectID))
	case domain.KindAnalysis:
		return encodeList(listRecords[domain.NeedsAnalysis](ctx, e, orgID, projectID))
	case domain.KindDesign:
		return encodeList(listRecords[domain.CourseDesign](ctx, e, orgID, projectID))
	case domain.KindGeneration:
		return encodeList(e.ListGenerations(ctx, orgID, projectID))
	case domain.KindImplementation:
		return encodeList(listRecords[domain.Implementation](ctx, e, orgID, projectID))
	case domain.KindAnalytics:
		return encodeList(listRecords[domain.Analytics](ctx, e, orgID, projectID))
	case domain.KindGovernance:
		return encodeList(listRecords[domain.Governance](ctx, e, orgID, projectID))
	}
	return nil, domain.Errorf(domain.KindValidationFailed, "unknown record kind %q", kind)
}

func patchAs[T any, P recordPtr[T]](ctx context.Context, e Engine, orgID, projectID, id string, version int, patch func(T) (T, error)) (json.RawMessage, error) {
	cur, err := getRecord[T, P](ctx, e, orgID, projectID, id)
	if err != nil {
		return nil, err
	}
	if version != 0 && P(&cur).Meta().Version != version {
		return nil, domain.Conflict(P(&cur).Kind().Label(), id)
	}
	return encodeResult(patch(cur))
}

// PatchRecord merges patch onto the stored record. A non-zero version must
// match the stored one.
func (e Engine) PatchRecord(ctx context.Context, orgID, projectID string, kind domain.RecordKind, id string, version int, patch json.RawMessage, actor domain.Actor) (json.RawMessage, error) {
	switch kind {
	case domain.KindContent:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.Content) (domain.Content, error) { return e.PatchContent(ctx, v, patch, actor) })
	case domain.KindAnalysis:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.NeedsAnalysis) (domain.NeedsAnalysis, error) {
			return e.PatchAnalysis(ctx, v, patch, actor)
		})
	case domain.KindDesign:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.CourseDesign) (domain.CourseDesign, error) {
			return e.PatchDesign(ctx, v, patch, actor)
		})
	case domain.KindGeneration:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.AIGeneration) (domain.AIGeneration, error) {
			return e.PatchGeneration(ctx, v, patch, actor)
		})
	case domain.KindImplementation:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.Implementation) (domain.Implementation, error) {
			return e.PatchImplementation(ctx, v, patch, actor)
		})
	case domain.KindAnalytics:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.Analytics) (domain.Analytics, error) {
			return e.PatchAnalytics(ctx, v, patch, actor)
		})
	case domain.KindGovernance:
		return patchAs(ctx, e, orgID, projectID, id, version, func(v domain.Governance) (domain.Governance, error) {
			return e.PatchGovernance(ctx, v, patch, actor)
		})
	}
	return nil, domain.Errorf(domain.KindValidationFailed, "unknown record kind %q", kind)
}

// DecideStage approves or rejects one stage of a governance record.
func (e Engine) DecideStage(ctx context.Context, orgID, projectID, governanceID, stageID string, version int, approve bool, actor domain.Actor, notes string) (domain.Governance, error) {
	g, err := getRecord[domain.Governance](ctx, e, orgID, projectID, governanceID)
	if err != nil {
		return domain.Governance{}, err
	}
	if version != 0 && g.Version != version {
		return domain.Governance{}, domain.Conflict(domain.KindGovernance.Label(), governanceID)
	}
	if approve {
		return e.ApproveStage(ctx, g, stageID, actor, notes)
	}
	return e.RejectStage(ctx, g, stageID, actor, notes)
}
