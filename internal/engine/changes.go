package engine

import (
	"bytes"
	"encoding/json"
	"sort"

	"phaseline/internal/domain"
)

// metaFields are bookkeeping fields left out of audit change lists.
var metaFields = map[string]bool{
	"id": true, "org_id": true, "project_id": true, "version": true,
	"created_by": true, "created_at": true, "updated_at": true, "updated_by": true,
	"last_modified_by": true,
}

func topLevelFields(v any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// diffFields lists the top-level JSON fields that differ between prev and next.
func diffFields(prev, next any) []domain.FieldChange {
	a, errA := topLevelFields(prev)
	b, errB := topLevelFields(next)
	if errA != nil || errB != nil {
		return nil
	}
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	var changes []domain.FieldChange
	for k := range keys {
		if metaFields[k] || bytes.Equal(a[k], b[k]) {
			continue
		}
		changes = append(changes, domain.FieldChange{Field: k, OldValue: a[k], NewValue: b[k]})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func change(field string, oldValue, newValue any) domain.FieldChange {
	o, _ := json.Marshal(oldValue)
	n, _ := json.Marshal(newValue)
	return domain.FieldChange{Field: field, OldValue: o, NewValue: n}
}
