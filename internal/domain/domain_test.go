package domain_test

import (
	"errors"
	"testing"

	"phaseline/internal/domain"
)

func TestPhaseOrder(t *testing.T) {
	if len(domain.Phases) != 9 {
		t.Fatalf("expected 9 phases, got %d", len(domain.Phases))
	}
	if domain.PhaseIngest.Index() != 0 || domain.PhaseGovern.Index() != 8 {
		t.Fatalf("unexpected phase indexes")
	}
	if got := domain.PhaseDesign.Before(); len(got) != 2 || got[1] != domain.PhaseAnalyze {
		t.Fatalf("unexpected phases before design: %v", got)
	}
	if domain.PhaseAnalyze.Title() != "Analyze" {
		t.Fatalf("unexpected title %q", domain.PhaseAnalyze.Title())
	}
	p, err := domain.ParsePhase(" Develop ")
	if err != nil || p != domain.PhaseDevelop {
		t.Fatalf("parse develop: %v %v", p, err)
	}
	if _, err := domain.ParsePhase("deploy"); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequiredRecord(t *testing.T) {
	cases := map[domain.Phase]domain.RecordKind{
		domain.PhaseAnalyze:   domain.KindAnalysis,
		domain.PhaseDesign:    domain.KindDesign,
		domain.PhaseDevelop:   domain.KindGeneration,
		domain.PhaseImplement: domain.KindImplementation,
		domain.PhaseEvaluate:  domain.KindAnalytics,
		domain.PhaseGovern:    domain.KindGovernance,
	}
	for phase, want := range cases {
		got, ok := domain.RequiredRecord(phase)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s", phase, want, got)
		}
	}
	for _, phase := range []domain.Phase{domain.PhaseIngest, domain.PhasePersonalize, domain.PhasePortal} {
		if _, ok := domain.RequiredRecord(phase); ok {
			t.Fatalf("%s should not require a record", phase)
		}
	}
}

func TestRecordKindLabels(t *testing.T) {
	for _, k := range domain.RecordKinds {
		if k.Label() == "" {
			t.Fatalf("%s has no label", k)
		}
	}
	if got := domain.KindContent.Label(); got != "content item" {
		t.Fatalf("unexpected content label %q", got)
	}
}

func TestErrorKindsMatch(t *testing.T) {
	err := domain.Errorf(domain.KindOutOfOrder, "approve stage %q first", "legal")
	if !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("expected out_of_order match")
	}
	if errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("kinds should not cross-match")
	}
	if domain.KindOf(err) != domain.KindOutOfOrder {
		t.Fatalf("unexpected kind %s", domain.KindOf(err))
	}
	if domain.KindOf(errors.New("boom")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}

func TestProjectCloneDoesNotAlias(t *testing.T) {
	p := domain.Project{Phases: domain.NewPhaseMap(), CreatedCourseIDs: []string{"c1"}}
	c := p.Clone()
	c.CreatedCourseIDs[0] = "changed"
	c.Phases[domain.PhaseIngest] = domain.PhaseStatus{Status: domain.PhaseCompleted}
	if p.CreatedCourseIDs[0] != "c1" || p.Phase(domain.PhaseIngest).Status != domain.PhasePending {
		t.Fatalf("clone aliased the original")
	}
}

func TestTaxonomyValidation(t *testing.T) {
	tax := domain.TaxonomyDistribution{Remember: 20, Understand: 20, Apply: 20, Analyze: 20, Evaluate: 10}
	if tax.Total() != 90 {
		t.Fatalf("unexpected total %d", tax.Total())
	}
	if err := tax.Validate(false); err != nil {
		t.Fatalf("advisory total should pass: %v", err)
	}
	if err := tax.Validate(true); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected enforced total to fail, got %v", err)
	}
	tax.Create = 101
	if err := tax.Validate(false); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected out-of-range value to fail")
	}
}

func TestCourseDesignRenumber(t *testing.T) {
	d := domain.CourseDesign{Modules: []domain.DesignModule{
		{ID: "b", Title: "B", Order: 5, Units: []domain.DesignUnit{{ID: "u2", Order: 9}, {ID: "u1", Order: 3}}},
		{ID: "a", Title: "A", Order: 2},
	}}
	d.Renumber()
	if d.Modules[0].ID != "a" || d.Modules[0].Order != 0 || d.Modules[1].Order != 1 {
		t.Fatalf("modules not renumbered: %+v", d.Modules)
	}
	units := d.Modules[1].Units
	if units[0].ID != "u1" || units[0].Order != 0 || units[1].Order != 1 {
		t.Fatalf("units not renumbered: %+v", units)
	}
}

func TestBreakdownByDepartmentUsesGeneralBucket(t *testing.T) {
	score := 80.0
	rows := domain.BreakdownByDepartment([]domain.LearnerProgress{
		{LearnerID: "1", Department: "sales", Completed: true, Score: &score},
		{LearnerID: "2", Department: "sales"},
		{LearnerID: "3"},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 departments, got %+v", rows)
	}
	if rows[0].Department != domain.GeneralDepartment || rows[0].Learners != 1 {
		t.Fatalf("unexpected general row %+v", rows[0])
	}
	if rows[1].Department != "sales" || rows[1].Learners != 2 || rows[1].CompletionRate != 50 || rows[1].AverageScore != 80 {
		t.Fatalf("unexpected sales row %+v", rows[1])
	}
}

func TestGenerationQuality(t *testing.T) {
	g := domain.AIGeneration{
		Type:   "assessment",
		Status: domain.GenerationCompleted,
		Assessments: []domain.GeneratedAssessment{{
			Title:     "Quiz",
			Questions: []domain.GeneratedQuestion{{Text: "Q1"}, {Text: ""}},
		}},
	}
	issues := g.CheckQuality(3)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", issues)
	}
	empty := domain.AIGeneration{Type: "lesson", Status: domain.GenerationCompleted}
	if len(empty.CheckQuality(3)) != 1 {
		t.Fatalf("expected empty output issue")
	}
}
