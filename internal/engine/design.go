package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"phaseline/internal/domain"
)

func (e Engine) CreateDesign(ctx context.Context, orgID, projectID string, actor domain.Actor, d domain.CourseDesign) (domain.CourseDesign, error) {
	return createRecord[domain.CourseDesign](ctx, e, orgID, projectID, actor, d)
}

func (e Engine) GetDesign(ctx context.Context, orgID, projectID string) (domain.CourseDesign, error) {
	return getSingle[domain.CourseDesign](ctx, e, orgID, projectID)
}

func (e Engine) PatchDesign(ctx context.Context, d domain.CourseDesign, patch json.RawMessage, actor domain.Actor) (domain.CourseDesign, error) {
	return patchRecord[domain.CourseDesign](ctx, e, d, patch, actor)
}

func moduleID(m domain.DesignModule) string { return m.ID }
func unitID(u domain.DesignUnit) string     { return u.ID }

// AddModule appends a module after the existing ones.
func (e Engine) AddModule(ctx context.Context, d domain.CourseDesign, m domain.DesignModule, actor domain.Actor) (domain.CourseDesign, error) {
	m.ID = uuid.NewString()
	return mutateRecord(ctx, e, d, actor, "design.module_added", map[string]string{"module_id": m.ID}, func(n *domain.CourseDesign) error {
		m.Order = len(n.Modules)
		for i := range m.Units {
			m.Units[i].Order = i
		}
		n.Modules = append(n.Modules, m)
		return nil
	})
}

// UpdateModule replaces a module's title, description and duration. Units
// and position are kept.
func (e Engine) UpdateModule(ctx context.Context, d domain.CourseDesign, m domain.DesignModule, actor domain.Actor) (domain.CourseDesign, error) {
	return mutateRecord(ctx, e, d, actor, "design.module_updated", map[string]string{"module_id": m.ID}, func(n *domain.CourseDesign) error {
		idx := indexByID(n.Modules, m.ID, moduleID)
		if idx < 0 {
			return domain.NotFound("module", m.ID)
		}
		cur := &n.Modules[idx]
		cur.Title = m.Title
		cur.Description = m.Description
		cur.DurationMinutes = m.DurationMinutes
		return nil
	})
}

// RemoveModule deletes a module; the remaining modules are renumbered from zero.
func (e Engine) RemoveModule(ctx context.Context, d domain.CourseDesign, id string, actor domain.Actor) (domain.CourseDesign, error) {
	return mutateRecord(ctx, e, d, actor, "design.module_removed", map[string]string{"module_id": id}, func(n *domain.CourseDesign) (err error) {
		n.Modules, err = removeByID(n.Modules, id, moduleID, "module")
		return err
	})
}

// MoveModule places a module at position to, shifting the others.
func (e Engine) MoveModule(ctx context.Context, d domain.CourseDesign, id string, to int, actor domain.Actor) (domain.CourseDesign, error) {
	return mutateRecord(ctx, e, d, actor, "design.module_moved", map[string]string{"module_id": id}, func(n *domain.CourseDesign) error {
		idx := indexByID(n.Modules, id, moduleID)
		if idx < 0 {
			return domain.NotFound("module", id)
		}
		if to < 0 || to >= len(n.Modules) {
			return domain.Errorf(domain.KindValidationFailed, "position %d is outside 0..%d", to, len(n.Modules)-1)
		}
		m := n.Modules[idx]
		rest := append(n.Modules[:idx:idx], n.Modules[idx+1:]...)
		n.Modules = append(rest[:to:to], append([]domain.DesignModule{m}, rest[to:]...)...)
		for i := range n.Modules {
			n.Modules[i].Order = i
		}
		return nil
	})
}

func (e Engine) AddUnit(ctx context.Context, d domain.CourseDesign, modID string, u domain.DesignUnit, actor domain.Actor) (domain.CourseDesign, error) {
	u.ID = uuid.NewString()
	meta := map[string]string{"module_id": modID, "unit_id": u.ID}
	return mutateRecord(ctx, e, d, actor, "design.unit_added", meta, func(n *domain.CourseDesign) error {
		idx := indexByID(n.Modules, modID, moduleID)
		if idx < 0 {
			return domain.NotFound("module", modID)
		}
		u.Order = len(n.Modules[idx].Units)
		n.Modules[idx].Units = append(n.Modules[idx].Units, u)
		return nil
	})
}

// RemoveUnit deletes a unit; the module's remaining units are renumbered from zero.
func (e Engine) RemoveUnit(ctx context.Context, d domain.CourseDesign, modID, id string, actor domain.Actor) (domain.CourseDesign, error) {
	meta := map[string]string{"module_id": modID, "unit_id": id}
	return mutateRecord(ctx, e, d, actor, "design.unit_removed", meta, func(n *domain.CourseDesign) (err error) {
		idx := indexByID(n.Modules, modID, moduleID)
		if idx < 0 {
			return domain.NotFound("module", modID)
		}
		n.Modules[idx].Units, err = removeByID(n.Modules[idx].Units, id, unitID, "unit")
		return err
	})
}
