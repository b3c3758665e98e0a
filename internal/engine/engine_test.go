package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"phaseline/internal/audit"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
)

const org = "org-1"

var admin = domain.Actor{ID: "u-1", Name: "Ada", Role: "admin"}

type testEnv struct {
	Engine engine.Engine
	Log    audit.Log
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng := engine.New(conn, config.Default(), zap.NewNop())
	eng.Now = now
	log := audit.Log{DB: conn, Now: now}
	eng.Audit = audit.Recorder{Sink: log, Logger: zap.NewNop()}
	return testEnv{Engine: eng, Log: log, Ctx: context.Background()}
}

func (env testEnv) newProject(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, org, admin, "Onboarding", "new hire training")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

// completeIngest starts ingest, uploads one file and completes the phase.
func (env testEnv) completeIngest(t *testing.T, p domain.Project) domain.Project {
	t.Helper()
	p, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start ingest: %v", err)
	}
	if _, err := env.Engine.AddContent(env.Ctx, org, p.ID, admin, domain.Content{FileName: "handbook.pdf", FileSize: 1024}); err != nil {
		t.Fatalf("add content: %v", err)
	}
	p, err = env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseIngest, nil)
	if err != nil {
		t.Fatalf("complete ingest: %v", err)
	}
	return p
}

// reach completes ingest, skips every phase up to target and starts target.
func (env testEnv) reach(t *testing.T, target domain.Phase) domain.Project {
	t.Helper()
	p := env.completeIngest(t, env.newProject(t))
	var err error
	for _, ph := range target.Before() {
		if ph == domain.PhaseIngest {
			continue
		}
		if p, err = env.Engine.SkipPhase(env.Ctx, p, admin, ph, "not needed"); err != nil {
			t.Fatalf("skip %s: %v", ph, err)
		}
	}
	if p, err = env.Engine.StartPhase(env.Ctx, p, admin, target); err != nil {
		t.Fatalf("start %s: %v", target, err)
	}
	return p
}

func (env testEnv) audit(t *testing.T, projectID string) []domain.AuditLogEntry {
	t.Helper()
	entries, err := env.Log.List(env.Ctx, audit.Filter{OrgID: org, ProjectID: projectID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	if p.Status != domain.ProjectActive || p.CurrentPhase != domain.PhaseIngest || p.Version != 1 {
		t.Fatalf("unexpected project %+v", p)
	}
	for _, ph := range domain.Phases {
		if p.Phase(ph).Status != domain.PhasePending {
			t.Fatalf("phase %s should be pending", ph)
		}
	}
	entries := env.audit(t, p.ID)
	if len(entries) != 1 || entries[0].Action != domain.ActionProjectCreated || entries[0].ActorName != "Ada" {
		t.Fatalf("unexpected audit %+v", entries)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, org, admin, "  ", ""); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, org, domain.Actor{}, "x", ""); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error for missing actor, got %v", err)
	}
}

func TestStartPhaseRequiresEarlierPhases(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseDesign); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	p = env.completeIngest(t, p)
	if p.CurrentPhase != domain.PhaseAnalyze {
		t.Fatalf("current phase should advance to analyze, got %s", p.CurrentPhase)
	}
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseDesign); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition while analyze pending, got %v", err)
	}
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completed phases never restart, got %v", err)
	}
}

func TestCompletePhaseRequiresRecord(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDesign)
	_, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseDesign, nil)
	if !errors.Is(err, domain.ErrMissingPhaseData) {
		t.Fatalf("expected missing phase data, got %v", err)
	}
	if _, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, domain.CourseDesign{Title: "Course"}); err != nil {
		t.Fatalf("create design: %v", err)
	}
	p, err = env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseDesign, json.RawMessage(`{"approved_by":"lead"}`))
	if err != nil {
		t.Fatalf("complete design: %v", err)
	}
	st := p.Phase(domain.PhaseDesign)
	if st.Status != domain.PhaseCompleted || st.CompletedAt == nil || string(st.Data) != `{"approved_by":"lead"}` {
		t.Fatalf("unexpected design phase %+v", st)
	}
	if p.CurrentPhase != domain.PhaseDevelop {
		t.Fatalf("current phase should be develop, got %s", p.CurrentPhase)
	}
}

func TestCompletePhaseRejectsNonObjectOutput(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhasePersonalize)
	if _, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhasePersonalize, json.RawMessage(`[1,2]`)); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhasePersonalize, nil); err != nil {
		t.Fatalf("personalize needs no record: %v", err)
	}
}

func TestCompletePendingPhaseFails(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	if _, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseIngest, nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestIngestCompletesWithoutContent(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.StartPhase(env.Ctx, env.newProject(t), admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start ingest: %v", err)
	}
	if p, err = env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseIngest, nil); err != nil {
		t.Fatalf("complete ingest: %v", err)
	}
	if p, err = env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseAnalyze); err != nil {
		t.Fatalf("start analyze: %v", err)
	}
	if p.CurrentPhase != domain.PhaseAnalyze || p.Phase(domain.PhaseIngest).Status != domain.PhaseCompleted {
		t.Fatalf("unexpected project %+v", p)
	}
}

func TestCurrentPhaseStaysBetweenTerminalAndPending(t *testing.T) {
	type step struct {
		op    string
		phase domain.Phase
	}
	start := func(ph domain.Phase) step { return step{"start", ph} }
	complete := func(ph domain.Phase) step { return step{"complete", ph} }
	skip := func(ph domain.Phase) step { return step{"skip", ph} }
	cases := map[string][]step{
		"complete then skip the rest": {
			start(domain.PhaseIngest), complete(domain.PhaseIngest),
			skip(domain.PhaseAnalyze), skip(domain.PhaseDesign), skip(domain.PhaseDevelop),
			skip(domain.PhaseImplement), skip(domain.PhaseEvaluate), skip(domain.PhasePersonalize),
			skip(domain.PhasePortal), skip(domain.PhaseGovern),
		},
		"skip in-progress phases": {
			start(domain.PhaseIngest), complete(domain.PhaseIngest),
			start(domain.PhaseAnalyze), skip(domain.PhaseAnalyze),
			start(domain.PhaseDesign), skip(domain.PhaseDesign),
			skip(domain.PhaseDevelop), skip(domain.PhaseImplement), skip(domain.PhaseEvaluate),
			start(domain.PhasePersonalize), complete(domain.PhasePersonalize),
			start(domain.PhasePortal), complete(domain.PhasePortal),
			start(domain.PhaseGovern), skip(domain.PhaseGovern),
		},
		"stop midway": {
			start(domain.PhaseIngest), complete(domain.PhaseIngest),
			skip(domain.PhaseAnalyze), skip(domain.PhaseDesign), start(domain.PhaseDevelop),
		},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.newProject(t)
			checkCurrentPhase(t, p)
			for _, s := range steps {
				var err error
				switch s.op {
				case "start":
					p, err = env.Engine.StartPhase(env.Ctx, p, admin, s.phase)
				case "complete":
					p, err = env.Engine.CompletePhase(env.Ctx, p, admin, s.phase, nil)
				case "skip":
					p, err = env.Engine.SkipPhase(env.Ctx, p, admin, s.phase, "")
				}
				if err != nil {
					t.Fatalf("%s %s: %v", s.op, s.phase, err)
				}
				checkCurrentPhase(t, p)
			}
		})
	}
}

func checkCurrentPhase(t *testing.T, p domain.Project) {
	t.Helper()
	cur := p.CurrentPhase.Index()
	for _, ph := range domain.Phases {
		st := p.Phase(ph).Status
		if st.Terminal() && ph.Index() > cur {
			t.Fatalf("current %s is before %s phase %s", p.CurrentPhase, st, ph)
		}
		if st == domain.PhasePending && ph.Index() < cur {
			t.Fatalf("current %s is after pending phase %s", p.CurrentPhase, ph)
		}
	}
}

func TestSkipIngestRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	if _, err := env.Engine.SkipPhase(env.Ctx, p, admin, domain.PhaseIngest, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSkipRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	p := env.completeIngest(t, env.newProject(t))
	p, err := env.Engine.SkipPhase(env.Ctx, p, admin, domain.PhaseAnalyze, "analysis done offline")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if p.Phase(domain.PhaseAnalyze).Status != domain.PhaseSkipped || p.CurrentPhase != domain.PhaseDesign {
		t.Fatalf("unexpected project %+v", p)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != domain.ActionPhaseSkipped || entries[0].Metadata["reason"] != "analysis done offline" {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
}

func TestProjectCompletesWhenAllPhasesTerminal(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseGovern)
	if _, err := env.Engine.CreateGovernance(env.Ctx, org, p.ID, admin, domain.Governance{}); err != nil {
		t.Fatalf("create governance: %v", err)
	}
	p, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseGovern, nil)
	if err != nil {
		t.Fatalf("complete govern: %v", err)
	}
	if p.Status != domain.ProjectCompleted || p.CurrentPhase != domain.PhaseGovern {
		t.Fatalf("expected completed project on govern, got %s/%s", p.Status, p.CurrentPhase)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != domain.ActionProjectCompleted || entries[1].Action != domain.ActionPhaseCompleted {
		t.Fatalf("unexpected trailing audit %+v", entries[:2])
	}
	if _, err := env.Engine.Archive(env.Ctx, p, admin); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("completed projects cannot be archived, got %v", err)
	}
}

func TestEveryTransitionWritesOneAuditEntry(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	before := len(env.audit(t, p.ID))
	p, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	entries := env.audit(t, p.ID)
	if len(entries) != before+1 || entries[0].Action != domain.ActionPhaseStarted || entries[0].EntityID != p.ID {
		t.Fatalf("unexpected audit after start %+v", entries)
	}
	if len(entries[0].Changes) != 1 || entries[0].Changes[0].Field != "phases.ingest.status" {
		t.Fatalf("expected a status change, got %+v", entries[0].Changes)
	}
	// a rejected transition writes nothing
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest); err == nil {
		t.Fatalf("expected error")
	}
	if got := len(env.audit(t, p.ID)); got != before+1 {
		t.Fatalf("failed transition must not be audited, have %d entries", got)
	}
}

func TestConcurrentCompleteLosesRace(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	p, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.AddContent(env.Ctx, org, p.ID, admin, domain.Content{FileName: "a.pdf"}); err != nil {
		t.Fatalf("add content: %v", err)
	}
	first, second := p, p
	if _, err := env.Engine.CompletePhase(env.Ctx, first, admin, domain.PhaseIngest, nil); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err = env.Engine.CompletePhase(env.Ctx, second, domain.Actor{ID: "u-2"}, domain.PhaseIngest, nil)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	stored, err := env.Engine.GetProject(env.Ctx, org, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != p.Version+1 || stored.LastModifiedBy != admin.ID {
		t.Fatalf("loser must not write, got version %d by %s", stored.Version, stored.LastModifiedBy)
	}
}

func TestArchivedProjectBlocksPhaseChanges(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	p, err := env.Engine.Archive(env.Ctx, p, admin)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := env.Engine.Archive(env.Ctx, p, admin); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on double archive, got %v", err)
	}
	p, err = env.Engine.Activate(env.Ctx, p, admin)
	if err != nil || p.Status != domain.ProjectActive {
		t.Fatalf("activate: %v", err)
	}
	if _, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest); err != nil {
		t.Fatalf("start after activate: %v", err)
	}
}

func TestUpdateProjectDetails(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	name := "Onboarding 2024"
	p2, err := env.Engine.UpdateProjectDetails(env.Ctx, p, admin, &name, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p2.Name != name || p2.Description != p.Description || p2.Version != 2 {
		t.Fatalf("unexpected project %+v", p2)
	}
	same, err := env.Engine.UpdateProjectDetails(env.Ctx, p2, admin, &name, nil)
	if err != nil || same.Version != 2 {
		t.Fatalf("unchanged update must not write: %v %d", err, same.Version)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != domain.ActionProjectUpdated || entries[0].Changes[0].Field != "name" {
		t.Fatalf("unexpected audit %+v", entries[0])
	}
}

func TestDeleteProjectRemovesRecords(t *testing.T) {
	env := newTestEnv(t)
	p := env.completeIngest(t, env.newProject(t))
	if err := env.Engine.DeleteProject(env.Ctx, org, p.ID, admin); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, org, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.ListRecords(env.Ctx, org, p.ID, domain.KindContent); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for records, got %v", err)
	}
	if entries := env.audit(t, p.ID); entries[0].Action != domain.ActionProjectDeleted {
		t.Fatalf("audit history survives deletion, got %+v", entries[0])
	}
}

func TestRecordsRequireStartedPhase(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	_, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, domain.CourseDesign{Title: "Course"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestSingleRecordPerProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseAnalyze)
	if _, err := env.Engine.CreateAnalysis(env.Ctx, org, p.ID, admin, domain.NeedsAnalysis{Summary: "first"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateAnalysis(env.Ctx, org, p.ID, admin, domain.NeedsAnalysis{Summary: "second"}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestAnalysisListMutations(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseAnalyze)
	a, err := env.Engine.CreateAnalysis(env.Ctx, org, p.ID, admin, domain.NeedsAnalysis{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err = env.Engine.AddSkillGap(env.Ctx, a, domain.SkillGap{Skill: "SQL", CurrentLevel: 1, TargetLevel: 3}, admin)
	if err != nil {
		t.Fatalf("add gap: %v", err)
	}
	if len(a.SkillGaps) != 1 || a.SkillGaps[0].ID == "" || a.Version != 2 {
		t.Fatalf("unexpected analysis %+v", a)
	}
	gap := a.SkillGaps[0]
	gap.TargetLevel = 4
	a, err = env.Engine.UpdateSkillGap(env.Ctx, a, gap, admin)
	if err != nil || a.SkillGaps[0].TargetLevel != 4 {
		t.Fatalf("update gap: %v", err)
	}
	if _, err := env.Engine.RemoveSkillGap(env.Ctx, a, "missing", admin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	a, err = env.Engine.RemoveSkillGap(env.Ctx, a, gap.ID, admin)
	if err != nil || len(a.SkillGaps) != 0 {
		t.Fatalf("remove gap: %v", err)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != "analysis.skill_gap_removed" || entries[0].EntityType != "analysis" || entries[0].EntityID != a.ID {
		t.Fatalf("unexpected audit %+v", entries[0])
	}
}

func TestAnalysisAudiencesObjectivesAndCompliance(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseAnalyze)
	a, err := env.Engine.CreateAnalysis(env.Ctx, org, p.ID, admin, domain.NeedsAnalysis{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a, err = env.Engine.AddAudience(env.Ctx, a, domain.Audience{Name: "New managers", Size: 40}, admin); err != nil {
		t.Fatalf("add audience: %v", err)
	}
	if _, err := env.Engine.AddObjective(env.Ctx, a, domain.LearningObjective{Description: "Run a 1:1", BloomLevel: "memorize"}, admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("unknown bloom level must fail, got %v", err)
	}
	if a, err = env.Engine.AddObjective(env.Ctx, a, domain.LearningObjective{Description: "Run a 1:1", BloomLevel: "apply"}, admin); err != nil {
		t.Fatalf("add objective: %v", err)
	}
	if a, err = env.Engine.AddComplianceRequirement(env.Ctx, a, domain.ComplianceRequirement{Name: "Harassment training", Mandatory: true}, admin); err != nil {
		t.Fatalf("add requirement: %v", err)
	}
	req := a.ComplianceRequirements[0]
	req.Regulation = "SB 1343"
	if a, err = env.Engine.UpdateComplianceRequirement(env.Ctx, a, req, admin); err != nil || a.ComplianceRequirements[0].Regulation != "SB 1343" {
		t.Fatalf("update requirement: %v", err)
	}
	if a, err = env.Engine.PatchAnalysis(env.Ctx, a, json.RawMessage(`{"summary":"managers lack coaching skills"}`), admin); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if a.Summary != "managers lack coaching skills" || len(a.TargetAudiences) != 1 || len(a.LearningObjectives) != 1 {
		t.Fatalf("patch must keep list fields: %+v", a)
	}
	if a, err = env.Engine.RemoveObjective(env.Ctx, a, a.LearningObjectives[0].ID, admin); err != nil {
		t.Fatalf("remove objective: %v", err)
	}
	if a, err = env.Engine.RemoveAudience(env.Ctx, a, a.TargetAudiences[0].ID, admin); err != nil {
		t.Fatalf("remove audience: %v", err)
	}
	if a, err = env.Engine.RemoveComplianceRequirement(env.Ctx, a, req.ID, admin); err != nil {
		t.Fatalf("remove requirement: %v", err)
	}
	if len(a.TargetAudiences)+len(a.LearningObjectives)+len(a.ComplianceRequirements) != 0 {
		t.Fatalf("lists not emptied: %+v", a)
	}
	stored, err := env.Engine.GetAnalysis(env.Ctx, org, p.ID)
	if err != nil || stored.Version != a.Version {
		t.Fatalf("stored analysis version %d, want %d (%v)", stored.Version, a.Version, err)
	}
}

func TestContentProcessing(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.StartPhase(env.Ctx, env.newProject(t), admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start ingest: %v", err)
	}
	c, err := env.Engine.AddContent(env.Ctx, org, p.ID, admin, domain.Content{FileName: "policy.docx", FileSize: 2048})
	if err != nil {
		t.Fatalf("add content: %v", err)
	}
	if c.Status != domain.ContentUploaded {
		t.Fatalf("new content should be uploaded, got %s", c.Status)
	}
	c, err = env.Engine.SetContentStatus(env.Ctx, c, engine.ContentProcessingResult{
		Status:        domain.ContentProcessed,
		ExtractedText: "Section 1",
		Metadata:      &domain.ContentMetadata{PageCount: 3, Language: "en"},
	}, admin)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if c.Status != domain.ContentProcessed || c.Metadata.PageCount != 3 || c.ExtractedText != "Section 1" {
		t.Fatalf("processing result not stored: %+v", c)
	}
	if _, err := env.Engine.SetContentStatus(env.Ctx, c, engine.ContentProcessingResult{Status: "lost"}, admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("unknown status must fail, got %v", err)
	}
	if c, err = env.Engine.PatchContent(env.Ctx, c, json.RawMessage(`{"storage_ref":"blob://uploads/policy.docx"}`), admin); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if c.StorageRef != "blob://uploads/policy.docx" || c.FileName != "policy.docx" {
		t.Fatalf("unexpected patched content %+v", c)
	}
	if err := env.Engine.RemoveContent(env.Ctx, c, admin); err != nil {
		t.Fatalf("remove: %v", err)
	}
	left, err := env.Engine.ListContent(env.Ctx, org, p.ID)
	if err != nil || len(left) != 0 {
		t.Fatalf("content not removed: %v %+v", err, left)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != "content.deleted" || entries[1].Action != "content.updated" || entries[2].Action != "content.status_changed" {
		t.Fatalf("unexpected audit actions %s, %s, %s", entries[0].Action, entries[1].Action, entries[2].Action)
	}
}

func TestDesignModuleOrdering(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDesign)
	d, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, domain.CourseDesign{Title: "Course"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, title := range []string{"Intro", "Core", "Wrap-up"} {
		if d, err = env.Engine.AddModule(env.Ctx, d, domain.DesignModule{Title: title}, admin); err != nil {
			t.Fatalf("add module: %v", err)
		}
	}
	for i, m := range d.Modules {
		if m.Order != i {
			t.Fatalf("module %s has order %d, want %d", m.Title, m.Order, i)
		}
	}
	d, err = env.Engine.RemoveModule(env.Ctx, d, d.Modules[0].ID, admin)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(d.Modules) != 2 || d.Modules[0].Title != "Core" || d.Modules[0].Order != 0 || d.Modules[1].Order != 1 {
		t.Fatalf("modules not renumbered: %+v", d.Modules)
	}
	d, err = env.Engine.AddUnit(env.Ctx, d, d.Modules[1].ID, domain.DesignUnit{Title: "Quiz", DurationMinutes: 15}, admin)
	if err != nil {
		t.Fatalf("add unit: %v", err)
	}
	if u := d.Modules[1].Units[0]; u.Order != 0 || u.ID == "" {
		t.Fatalf("unexpected unit %+v", u)
	}
	if d.TotalMinutes() != 15 {
		t.Fatalf("total minutes %d", d.TotalMinutes())
	}
	d, err = env.Engine.AddUnit(env.Ctx, d, d.Modules[1].ID, domain.DesignUnit{Title: "Case study"}, admin)
	if err != nil {
		t.Fatalf("add second unit: %v", err)
	}
	d, err = env.Engine.RemoveUnit(env.Ctx, d, d.Modules[1].ID, d.Modules[1].Units[0].ID, admin)
	if err != nil {
		t.Fatalf("remove unit: %v", err)
	}
	if units := d.Modules[1].Units; len(units) != 1 || units[0].Title != "Case study" || units[0].Order != 0 {
		t.Fatalf("units not renumbered: %+v", units)
	}
	wrap := d.Modules[1]
	wrap.Title = "Wrap-up and review"
	wrap.Order = 7
	if d, err = env.Engine.UpdateModule(env.Ctx, d, wrap, admin); err != nil {
		t.Fatalf("update module: %v", err)
	}
	if m := d.Modules[1]; m.Title != "Wrap-up and review" || m.Order != 1 || len(m.Units) != 1 {
		t.Fatalf("update must keep position and units: %+v", m)
	}
	if d, err = env.Engine.MoveModule(env.Ctx, d, wrap.ID, 0, admin); err != nil {
		t.Fatalf("move module: %v", err)
	}
	if d.Modules[0].ID != wrap.ID || d.Modules[0].Order != 0 || d.Modules[1].Order != 1 {
		t.Fatalf("module not moved: %+v", d.Modules)
	}
	stored, err := env.Engine.GetDesign(env.Ctx, org, p.ID)
	if err != nil || stored.Version != d.Version {
		t.Fatalf("stored version %d, want %d (%v)", stored.Version, d.Version, err)
	}
}

func TestStaleRecordSnapshotConflicts(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDesign)
	d, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, domain.CourseDesign{Title: "Course"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.AddModule(env.Ctx, d, domain.DesignModule{Title: "A"}, admin); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.Engine.AddModule(env.Ctx, d, domain.DesignModule{Title: "B"}, admin); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTaxonomyTotalPolicy(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDesign)
	partial := domain.CourseDesign{Title: "Course", Taxonomy: domain.TaxonomyDistribution{Remember: 30, Apply: 30}}
	d, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, partial)
	if err != nil {
		t.Fatalf("advisory total should be accepted: %v", err)
	}
	if d.Taxonomy.Total() != 60 {
		t.Fatalf("total %d", d.Taxonomy.Total())
	}

	env.Engine.Config.Design.EnforceTaxonomyTotal = true
	if _, err := env.Engine.PatchDesign(env.Ctx, d, json.RawMessage(`{"taxonomy":{"remember":50}}`), admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	full := `{"taxonomy":{"remember":20,"understand":20,"apply":20,"analyze":20,"evaluate":10,"create":10}}`
	if _, err := env.Engine.PatchDesign(env.Ctx, d, json.RawMessage(full), admin); err != nil {
		t.Fatalf("full distribution: %v", err)
	}
}

func TestPatchRecordRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDesign)
	d, err := env.Engine.CreateDesign(env.Ctx, org, p.ID, admin, domain.CourseDesign{Title: "Course"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.PatchDesign(env.Ctx, d, json.RawMessage(`{"bogus":1}`), admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("unknown fields must be rejected, got %v", err)
	}
	d2, err := env.Engine.PatchDesign(env.Ctx, d, json.RawMessage(`{"title":"Renamed","id":"other","version":99}`), admin)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if d2.Title != "Renamed" || d2.ID != d.ID || d2.Version != d.Version+1 {
		t.Fatalf("unexpected patched design %+v", d2.RecordMeta)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != "design.updated" || len(entries[0].Changes) != 1 || entries[0].Changes[0].Field != "title" {
		t.Fatalf("unexpected audit %+v", entries[0])
	}
}

func TestDispatchByKind(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseImplement)
	raw, err := env.Engine.CreateRecord(env.Ctx, org, p.ID, admin, domain.KindImplementation, json.RawMessage(`{"course_ids":["c-9"]}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var im domain.Implementation
	if err := json.Unmarshal(raw, &im); err != nil {
		t.Fatalf("decode: %v", err)
	}
	list, err := env.Engine.ListRecords(env.Ctx, org, p.ID, domain.KindImplementation)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v (%d)", err, len(list))
	}
	if _, err := env.Engine.PatchRecord(env.Ctx, org, p.ID, domain.KindImplementation, im.ID, im.Version+1, json.RawMessage(`{}`), admin); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
	if _, err := env.Engine.PatchRecord(env.Ctx, org, p.ID, domain.KindImplementation, im.ID, im.Version, json.RawMessage(`{"learning_path_ids":["lp-1"]}`), admin); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := env.Engine.CreateRecord(env.Ctx, org, p.ID, admin, domain.RecordKind("nope"), json.RawMessage(`{}`)); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLinkArtifactIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	p, err := env.Engine.LinkArtifact(env.Ctx, p, admin, domain.ArtifactCourse, "c-1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	p, err = env.Engine.LinkArtifact(env.Ctx, p, admin, domain.ArtifactCourse, "c-1")
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if len(p.CreatedCourseIDs) != 1 || p.CreatedCourseIDs[0] != "c-1" || p.Version != 2 {
		t.Fatalf("unexpected courses %v (version %d)", p.CreatedCourseIDs, p.Version)
	}
	linked := 0
	for _, e := range env.audit(t, p.ID) {
		if e.Action == domain.ActionArtifactLinked {
			linked++
		}
	}
	if linked != 1 {
		t.Fatalf("expected one link entry, got %d", linked)
	}
}

func TestUnlinkAbsentArtifactIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t)
	got, err := env.Engine.UnlinkArtifact(env.Ctx, p, admin, domain.ArtifactAssessment, "a-404")
	if err != nil || got.Version != p.Version {
		t.Fatalf("unlink of absent id must be a no-op: %v", err)
	}
	p, _ = env.Engine.LinkArtifact(env.Ctx, p, admin, domain.ArtifactAssessment, "a-1")
	p, err = env.Engine.UnlinkArtifact(env.Ctx, p, admin, domain.ArtifactAssessment, "a-1")
	if err != nil || len(p.CreatedAssessmentIDs) != 0 {
		t.Fatalf("unlink: %v %v", err, p.CreatedAssessmentIDs)
	}
	if _, err := env.Engine.LinkArtifact(env.Ctx, p, admin, domain.ArtifactKind("video"), "v-1"); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func developedProject(t *testing.T, env testEnv) domain.Project {
	t.Helper()
	p := env.reach(t, domain.PhaseDevelop)
	g, err := env.Engine.CreateGeneration(env.Ctx, org, p.ID, admin, domain.AIGeneration{Type: "assessment", Prompt: "quiz on SQL"})
	if err != nil {
		t.Fatalf("create generation: %v", err)
	}
	questions := []domain.GeneratedQuestion{{Text: "q1"}, {Text: "q2"}, {Text: "q3"}}
	_, err = env.Engine.RecordGenerationOutput(env.Ctx, g, engine.GenerationOutput{
		Output:      "done",
		CourseID:    "course-7",
		Assessments: []domain.GeneratedAssessment{{ID: "assess-1", Title: "SQL", Questions: questions}},
	}, admin)
	if err != nil {
		t.Fatalf("record output: %v", err)
	}
	return p
}

func TestCompleteDevelopReconcilesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	p := developedProject(t, env)
	p, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseDevelop, nil)
	if err != nil {
		t.Fatalf("complete develop: %v", err)
	}
	if len(p.CreatedAssessmentIDs) != 1 || p.CreatedAssessmentIDs[0] != "assess-1" {
		t.Fatalf("assessments not linked: %v", p.CreatedAssessmentIDs)
	}
	if len(p.CreatedCourseIDs) != 1 || p.CreatedCourseIDs[0] != "course-7" {
		t.Fatalf("courses not linked: %v", p.CreatedCourseIDs)
	}
	var report engine.QualityReport
	if err := json.Unmarshal(p.Phase(domain.PhaseDevelop).Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.GeneratedItems != 1 || report.ReviewRequired != 0 || report.QualityGate != "v1" {
		t.Fatalf("unexpected report %+v", report)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != domain.ActionArtifactsReconciled || entries[1].Action != domain.ActionPhaseCompleted {
		t.Fatalf("unexpected audit order %s, %s", entries[0].Action, entries[1].Action)
	}
	again, err := env.Engine.Reconcile(env.Ctx, p, admin, domain.PhaseDevelop)
	if err != nil || again.Version != p.Version {
		t.Fatalf("second reconcile must not write: %v", err)
	}
}

func TestImplementationEnrollment(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseImplement)
	im, err := env.Engine.CreateImplementation(env.Ctx, org, p.ID, admin, domain.Implementation{
		CourseIDs:       []string{"course-1"},
		LearningPathIDs: []string{"lp-1"},
	})
	if err != nil {
		t.Fatalf("create implementation: %v", err)
	}
	im, err = env.Engine.AddEnrollmentRule(env.Ctx, im, domain.EnrollmentRule{Name: "Sales", Type: "department", Value: "sales", AutoEnroll: true}, admin)
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if len(im.EnrollmentRules) != 1 || im.EnrollmentRules[0].ID == "" {
		t.Fatalf("rule not stored: %+v", im.EnrollmentRules)
	}
	if _, err := env.Engine.AddEnrollmentRule(env.Ctx, im, domain.EnrollmentRule{Name: "Ops", Type: "role"}, admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("role rule without value must fail validation, got %v", err)
	}
	rule := im.EnrollmentRules[0]
	rule.DueInDays = 14
	if im, err = env.Engine.UpdateEnrollmentRule(env.Ctx, im, rule, admin); err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if im.EnrollmentRules[0].DueInDays != 14 {
		t.Fatalf("rule not updated: %+v", im.EnrollmentRules[0])
	}
	if _, err := env.Engine.UpdateEnrollmentCounters(env.Ctx, im, domain.EnrollmentCounters{Enrolled: 2, Completed: 3}, admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("completed above enrolled must fail, got %v", err)
	}
	if im, err = env.Engine.UpdateEnrollmentCounters(env.Ctx, im, domain.EnrollmentCounters{Enrolled: 10, InProgress: 4, Completed: 3}, admin); err != nil {
		t.Fatalf("update counters: %v", err)
	}
	if _, err := env.Engine.RemoveEnrollmentRule(env.Ctx, im, "missing", admin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removing unknown rule must be not found, got %v", err)
	}
	if im, err = env.Engine.RemoveEnrollmentRule(env.Ctx, im, rule.ID, admin); err != nil || len(im.EnrollmentRules) != 0 {
		t.Fatalf("remove rule: %v %+v", err, im.EnrollmentRules)
	}

	p, err = env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseImplement, nil)
	if err != nil {
		t.Fatalf("complete implement: %v", err)
	}
	if len(p.CreatedCourseIDs) != 1 || p.CreatedCourseIDs[0] != "course-1" ||
		len(p.CreatedLearningPathIDs) != 1 || p.CreatedLearningPathIDs[0] != "lp-1" {
		t.Fatalf("implement artifacts not reconciled: %+v %+v", p.CreatedCourseIDs, p.CreatedLearningPathIDs)
	}
}

// flakyProjects fails every UpdateProject after the first n.
type flakyProjects struct {
	engine.ProjectStore
	n     int
	calls *int
}

func (f flakyProjects) UpdateProject(ctx context.Context, p domain.Project, expected int) error {
	*f.calls++
	if *f.calls > f.n {
		return errors.New("disk full")
	}
	return f.ProjectStore.UpdateProject(ctx, p, expected)
}

func TestReconcileFailureKeepsCompletion(t *testing.T) {
	env := newTestEnv(t)
	p := developedProject(t, env)
	core, logs := observer.New(zapcore.WarnLevel)
	calls := 0
	env.Engine.Projects = flakyProjects{ProjectStore: env.Engine.Projects, n: 1, calls: &calls}
	env.Engine.Logger = zap.New(core)

	p, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseDevelop, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("completion must survive a reconcile failure: %v", err)
	}
	if p.Phase(domain.PhaseDevelop).Status != domain.PhaseCompleted || len(p.CreatedAssessmentIDs) != 0 {
		t.Fatalf("unexpected project %+v", p)
	}
	if logs.FilterMessage("artifact reconcile failed after phase completion").Len() != 1 {
		t.Fatalf("expected reconcile warning, got %v", logs.All())
	}
}

type failingSink struct{}

func (failingSink) Append(context.Context, domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	return domain.AuditLogEntry{}, errors.New("audit store offline")
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	env.Engine.Audit = audit.Recorder{Sink: failingSink{}, Logger: zap.New(core)}
	p := env.newProject(t)
	p, err := env.Engine.StartPhase(env.Ctx, p, admin, domain.PhaseIngest)
	if err != nil {
		t.Fatalf("start must succeed without audit: %v", err)
	}
	if p.Phase(domain.PhaseIngest).Status != domain.PhaseInProgress {
		t.Fatalf("unexpected phase %+v", p.Phase(domain.PhaseIngest))
	}
	failed := logs.FilterMessage("audit append failed").All()
	if len(failed) != 2 || failed[1].ContextMap()["action"] != domain.ActionPhaseStarted {
		t.Fatalf("expected two logged failures, got %v", failed)
	}
}

func governed(t *testing.T, env testEnv, stages ...domain.ApprovalStage) (domain.Project, domain.Governance) {
	t.Helper()
	p := env.reach(t, domain.PhaseGovern)
	g, err := env.Engine.CreateGovernance(env.Ctx, org, p.ID, admin, domain.Governance{Approval: domain.ApprovalWorkflow{Stages: stages}})
	if err != nil {
		t.Fatalf("create governance: %v", err)
	}
	return p, g
}

func TestApprovalStagesInOrder(t *testing.T) {
	env := newTestEnv(t)
	p, g := governed(t, env, domain.ApprovalStage{Name: "Review", Order: 1}, domain.ApprovalStage{Name: "Final", Order: 2})
	review, final := g.Approval.Stages[0], g.Approval.Stages[1]
	if review.Name != "Review" || review.Order != 0 || final.Order != 1 {
		t.Fatalf("stages not normalized: %+v", g.Approval.Stages)
	}
	if _, err := env.Engine.ApproveStage(env.Ctx, g, final.ID, admin, ""); !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("expected out of order, got %v", err)
	}
	g, err := env.Engine.ApproveStage(env.Ctx, g, review.ID, admin, "looks good")
	if err != nil {
		t.Fatalf("approve review: %v", err)
	}
	entries := env.audit(t, p.ID)
	if entries[0].Action != domain.ActionGovernanceStageApproved || entries[0].EntityID != review.ID || entries[0].Metadata["governance_id"] != g.ID {
		t.Fatalf("unexpected audit %+v", entries[0])
	}
	if g.Approval.Satisfied() {
		t.Fatalf("workflow should not be satisfied yet")
	}
	g, err = env.Engine.ApproveStage(env.Ctx, g, final.ID, admin, "")
	if err != nil {
		t.Fatalf("approve final: %v", err)
	}
	if !g.Approval.Satisfied() || g.Approval.Stages[1].ApproverID != admin.ID || g.Approval.Stages[1].DecidedAt == nil {
		t.Fatalf("unexpected workflow %+v", g.Approval)
	}
	if _, err := env.Engine.RejectStage(env.Ctx, g, final.ID, admin, ""); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestRejectHaltsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	_, g := governed(t, env, domain.ApprovalStage{Name: "Legal"}, domain.ApprovalStage{Name: "Exec", Order: 1, RequiredRoles: []string{"exec"}})
	if _, err := env.Engine.ApproveStage(env.Ctx, g, g.Approval.Stages[0].ID, domain.Actor{ID: "u-3", Role: "viewer"}, ""); err != nil {
		t.Fatalf("open stage accepts any role: %v", err)
	}
	g, _ = env.Engine.GetGovernance(env.Ctx, org, g.ProjectID)
	if _, err := env.Engine.RejectStage(env.Ctx, g, g.Approval.Stages[1].ID, admin, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	g, err := env.Engine.RejectStage(env.Ctx, g, g.Approval.Stages[1].ID, domain.Actor{ID: "u-4", Role: "exec"}, "budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !g.Approval.Halted() || g.Approval.Satisfied() {
		t.Fatalf("unexpected workflow %+v", g.Approval)
	}
}

func TestGovernCompletionPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Lifecycle.RequireApprovalForGovern = true
	p, g := governed(t, env, domain.ApprovalStage{Name: "Review"})
	if _, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseGovern, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := env.Engine.ApproveStage(env.Ctx, g, g.Approval.Stages[0].ID, admin, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.CompletePhase(env.Ctx, p, admin, domain.PhaseGovern, nil); err != nil {
		t.Fatalf("complete govern: %v", err)
	}
}

func TestApprovalStageEditing(t *testing.T) {
	env := newTestEnv(t)
	_, g := governed(t, env)
	g, err := env.Engine.AddApprovalStage(env.Ctx, g, domain.ApprovalStage{Name: "Review", Status: domain.ApprovalApproved}, admin)
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}
	if s := g.Approval.Stages[0]; s.Status != domain.ApprovalPending || s.Order != 0 {
		t.Fatalf("new stages start pending: %+v", s)
	}
	if _, err := env.Engine.PatchGovernance(env.Ctx, g, json.RawMessage(`{"approval":{"stages":[]}}`), admin); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("approval is not patchable, got %v", err)
	}
	g, err = env.Engine.ApproveStage(env.Ctx, g, g.Approval.Stages[0].ID, admin, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.RemoveApprovalStage(env.Ctx, g, g.Approval.Stages[0].ID, admin); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestGenerationReview(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseDevelop)
	g, err := env.Engine.CreateGeneration(env.Ctx, org, p.ID, admin, domain.AIGeneration{Type: "assessment"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.ReviewGeneration(env.Ctx, g, domain.ReviewApproved, "", admin); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("pending generations cannot be reviewed, got %v", err)
	}
	g, err = env.Engine.RecordGenerationOutput(env.Ctx, g, engine.GenerationOutput{
		Assessments: []domain.GeneratedAssessment{{Title: "Short", Questions: []domain.GeneratedQuestion{{Text: ""}}}},
	}, admin)
	if err != nil {
		t.Fatalf("record output: %v", err)
	}
	if !g.ReviewRequired || len(g.QualityIssues) != 2 {
		t.Fatalf("expected quality issues, got %+v", g.QualityIssues)
	}
	g, err = env.Engine.ReviewGeneration(env.Ctx, g, domain.ReviewApproved, "fine for pilot", admin)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if g.ReviewRequired || g.ReviewedBy != admin.ID {
		t.Fatalf("approved review clears the flag: %+v", g)
	}
}

func TestAnalyticsSnapshotBucketsDepartments(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseEvaluate)
	a, err := env.Engine.CreateAnalytics(env.Ctx, org, p.ID, admin, domain.Analytics{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err = env.Engine.RecordAnalyticsSnapshot(env.Ctx, a, engine.AnalyticsSnapshot{
		Metrics: domain.AnalyticsMetrics{Enrollments: 3, Completions: 1},
		Point:   &domain.TimeSeriesPoint{Date: "2024-01-01", Enrollments: 3},
		Learners: []domain.LearnerProgress{
			{LearnerID: "l1", Department: "sales", Completed: true, Progress: 100},
			{LearnerID: "l2", Department: "sales", Progress: 40},
			{LearnerID: "l3", Progress: 10},
		},
	}, admin)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(a.Departments) != 2 || a.Departments[0].Department != domain.GeneralDepartment || a.Departments[1].Learners != 2 {
		t.Fatalf("unexpected departments %+v", a.Departments)
	}
	if len(a.TimeSeries) != 1 {
		t.Fatalf("unexpected time series %+v", a.TimeSeries)
	}
}

func TestClearingLearnersClearsDepartments(t *testing.T) {
	env := newTestEnv(t)
	p := env.reach(t, domain.PhaseEvaluate)
	a, err := env.Engine.CreateAnalytics(env.Ctx, org, p.ID, admin, domain.Analytics{
		Learners: []domain.LearnerProgress{{LearnerID: "l1", Department: "sales"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(a.Departments) != 1 || a.Departments[0].Department != "sales" {
		t.Fatalf("unexpected departments %+v", a.Departments)
	}
	a, err = env.Engine.PatchAnalytics(env.Ctx, a, json.RawMessage(`{"learners":[]}`), admin)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if len(a.Learners) != 0 || len(a.Departments) != 0 {
		t.Fatalf("learners cleared but departments still %+v", a.Departments)
	}
	stored, err := env.Engine.GetAnalytics(env.Ctx, org, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Departments) != 0 {
		t.Fatalf("stored departments %+v", stored.Departments)
	}
}

func TestOverview(t *testing.T) {
	env := newTestEnv(t)
	p := developedProject(t, env)
	ov, err := env.Engine.Overview(env.Ctx, org, p.ID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Project.ID != p.ID || len(ov.Content) != 1 || len(ov.Generations) != 1 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	if ov.Design != nil || ov.Governance != nil || ov.ApprovalSatisfied {
		t.Fatalf("absent records should be nil: %+v", ov)
	}
	if ov.Quality.GeneratedItems != 1 {
		t.Fatalf("unexpected quality %+v", ov.Quality)
	}
	if _, err := env.Engine.Overview(env.Ctx, org, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
