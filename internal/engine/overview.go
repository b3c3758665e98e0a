package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"phaseline/internal/domain"
)

// Overview is a project together with every phase record it owns.
type Overview struct {
	Project           domain.Project         `json:"project"`
	Content           []domain.Content       `json:"content"`
	Analysis          *domain.NeedsAnalysis  `json:"analysis,omitempty"`
	Design            *domain.CourseDesign   `json:"design,omitempty"`
	Generations       []domain.AIGeneration  `json:"generations"`
	Implementation    *domain.Implementation `json:"implementation,omitempty"`
	Analytics         *domain.Analytics      `json:"analytics,omitempty"`
	Governance        *domain.Governance     `json:"governance,omitempty"`
	ApprovalSatisfied bool                   `json:"approval_satisfied"`
	Quality           QualityReport          `json:"quality"`
	TotalMinutes      int                    `json:"total_design_minutes"`
}

// optional loads a one-per-project record, mapping not found to nil.
func optional[T any](load func() (T, error)) (*T, error) {
	v, err := load()
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Overview loads the project and its records concurrently. Reads are not
// taken from a single snapshot; each record carries its own version.
func (e Engine) Overview(ctx context.Context, orgID, projectID string) (Overview, error) {
	p, err := e.GetProject(ctx, orgID, projectID)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{Project: p}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ov.Content, err = e.ListContent(gctx, orgID, projectID)
		return err
	})
	g.Go(func() (err error) {
		ov.Analysis, err = optional(func() (domain.NeedsAnalysis, error) { return e.GetAnalysis(gctx, orgID, projectID) })
		return err
	})
	g.Go(func() (err error) {
		ov.Design, err = optional(func() (domain.CourseDesign, error) { return e.GetDesign(gctx, orgID, projectID) })
		return err
	})
	g.Go(func() (err error) {
		ov.Generations, err = e.ListGenerations(gctx, orgID, projectID)
		return err
	})
	g.Go(func() (err error) {
		ov.Implementation, err = optional(func() (domain.Implementation, error) { return e.GetImplementation(gctx, orgID, projectID) })
		return err
	})
	g.Go(func() (err error) {
		ov.Analytics, err = optional(func() (domain.Analytics, error) { return e.GetAnalytics(gctx, orgID, projectID) })
		return err
	})
	g.Go(func() (err error) {
		ov.Governance, err = optional(func() (domain.Governance, error) { return e.GetGovernance(gctx, orgID, projectID) })
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	if ov.Governance != nil {
		ov.ApprovalSatisfied = ov.Governance.Approval.Satisfied()
	}
	if ov.Design != nil {
		ov.TotalMinutes = ov.Design.TotalMinutes()
	}
	ov.Quality = e.qualityOf(ov.Generations)
	return ov, nil
}
