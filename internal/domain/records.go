package domain

import (
	"fmt"
	"sort"
)

// RecordKind names a phase-scoped sub-entity type.
type RecordKind string

const (
	KindContent        RecordKind = "content"
	KindAnalysis       RecordKind = "analysis"
	KindDesign         RecordKind = "design"
	KindGeneration     RecordKind = "generation"
	KindImplementation RecordKind = "implementation"
	KindAnalytics      RecordKind = "analytics"
	KindGovernance     RecordKind = "governance"
)

var RecordKinds = []RecordKind{
	KindContent,
	KindAnalysis,
	KindDesign,
	KindGeneration,
	KindImplementation,
	KindAnalytics,
	KindGovernance,
}

func ParseRecordKind(s string) (RecordKind, error) {
	for _, k := range RecordKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", Errorf(KindValidationFailed, "unknown record kind %q", s)
}

// Phase returns the phase that governs records of this kind.
func (k RecordKind) Phase() Phase {
	switch k {
	case KindContent:
		return PhaseIngest
	case KindAnalysis:
		return PhaseAnalyze
	case KindDesign:
		return PhaseDesign
	case KindGeneration:
		return PhaseDevelop
	case KindImplementation:
		return PhaseImplement
	case KindAnalytics:
		return PhaseEvaluate
	case KindGovernance:
		return PhaseGovern
	}
	return ""
}

// Single reports whether a project holds at most one record of this kind.
func (k RecordKind) Single() bool {
	return k != KindContent && k != KindGeneration
}

// Label is the human name used in messages.
func (k RecordKind) Label() string {
	switch k {
	case KindContent:
		return "content item"
	case KindAnalysis:
		return "needs analysis"
	case KindDesign:
		return "course design"
	case KindGeneration:
		return "AI generation"
	}
	return string(k)
}

// RequiredRecord returns the record kind a phase needs before it can complete.
// Ingest, personalize and portal have no requirement; content arrives from
// the ingestion pipeline and may trail the phase.
func RequiredRecord(p Phase) (RecordKind, bool) {
	if p == PhaseIngest {
		return "", false
	}
	for _, k := range RecordKinds {
		if k.Phase() == p {
			return k, true
		}
	}
	return "", false
}

// RecordMeta holds the fields every sub-entity carries.
type RecordMeta struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

func (m *RecordMeta) Meta() *RecordMeta { return m }

// Record is implemented by pointers to every sub-entity type.
type Record interface {
	Meta() *RecordMeta
	Kind() RecordKind
	Validate() error
}

func invalid(format string, args ...any) error {
	return Errorf(KindValidationFailed, format, args...)
}

func percent(field string, v float64) error {
	if v < 0 || v > 100 {
		return invalid("%s must be between 0 and 100, got %v", field, v)
	}
	return nil
}

func nonNegative(field string, v int64) error {
	if v < 0 {
		return invalid("%s must not be negative, got %d", field, v)
	}
	return nil
}

// ---- ingest ----

type ContentStatus string

const (
	ContentUploaded   ContentStatus = "uploaded"
	ContentProcessing ContentStatus = "processing"
	ContentProcessed  ContentStatus = "processed"
	ContentFailed     ContentStatus = "failed"
)

type ContentMetadata struct {
	PageCount int      `json:"page_count,omitempty"`
	WordCount int      `json:"word_count,omitempty"`
	Language  string   `json:"language,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

type Content struct {
	RecordMeta
	FileName      string          `json:"file_name"`
	FileType      string          `json:"file_type,omitempty"`
	FileSize      int64           `json:"file_size"`
	StorageRef    string          `json:"storage_ref,omitempty"`
	Status        ContentStatus   `json:"status" enum:"uploaded,processing,processed,failed"`
	ExtractedText string          `json:"extracted_text,omitempty"`
	Metadata      ContentMetadata `json:"metadata"`
	Error         string          `json:"error,omitempty"`
}

func (Content) Kind() RecordKind { return KindContent }

func (c Content) Validate() error {
	if c.FileName == "" {
		return invalid("file_name is required")
	}
	switch c.Status {
	case ContentUploaded, ContentProcessing, ContentProcessed, ContentFailed:
	default:
		return invalid("unknown content status %q", c.Status)
	}
	if err := nonNegative("file_size", c.FileSize); err != nil {
		return err
	}
	if err := nonNegative("metadata.page_count", int64(c.Metadata.PageCount)); err != nil {
		return err
	}
	return nonNegative("metadata.word_count", int64(c.Metadata.WordCount))
}

// ---- analyze ----

type Audience struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Size        int    `json:"size,omitempty"`
}

type SkillGap struct {
	ID           string `json:"id"`
	Skill        string `json:"skill"`
	CurrentLevel int    `json:"current_level"`
	TargetLevel  int    `json:"target_level"`
	Priority     string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	AudienceID   string `json:"audience_id,omitempty"`
}

type ComplianceRequirement struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Regulation  string  `json:"regulation,omitempty"`
	Description string  `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	Mandatory   bool    `json:"mandatory"`
}

type LearningObjective struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	BloomLevel  string   `json:"bloom_level,omitempty" enum:"remember,understand,apply,analyze,evaluate,create"`
	SkillGapIDs []string `json:"skill_gap_ids,omitempty"`
}

type NeedsAnalysis struct {
	RecordMeta
	Summary                string                  `json:"summary,omitempty"`
	TargetAudiences        []Audience              `json:"target_audiences"`
	SkillGaps              []SkillGap              `json:"skill_gaps"`
	ComplianceRequirements []ComplianceRequirement `json:"compliance_requirements"`
	LearningObjectives     []LearningObjective     `json:"learning_objectives"`
}

func (NeedsAnalysis) Kind() RecordKind { return KindAnalysis }

var bloomLevels = map[string]bool{
	"remember": true, "understand": true, "apply": true,
	"analyze": true, "evaluate": true, "create": true,
}

func (a NeedsAnalysis) Validate() error {
	for _, au := range a.TargetAudiences {
		if au.Name == "" {
			return invalid("target audience name is required")
		}
		if err := nonNegative("target audience size", int64(au.Size)); err != nil {
			return err
		}
	}
	for _, g := range a.SkillGaps {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	for _, r := range a.ComplianceRequirements {
		if r.Name == "" {
			return invalid("compliance requirement name is required")
		}
	}
	for _, o := range a.LearningObjectives {
		if o.Description == "" {
			return invalid("learning objective description is required")
		}
		if o.BloomLevel != "" && !bloomLevels[o.BloomLevel] {
			return invalid("unknown bloom level %q", o.BloomLevel)
		}
	}
	return nil
}

func (g SkillGap) Validate() error {
	if g.Skill == "" {
		return invalid("skill gap skill is required")
	}
	if g.CurrentLevel < 0 || g.TargetLevel < 0 {
		return invalid("skill gap %q levels must not be negative", g.Skill)
	}
	switch g.Priority {
	case "", "low", "medium", "high", "critical":
	default:
		return invalid("skill gap %q has unknown priority %q", g.Skill, g.Priority)
	}
	return nil
}

// ---- design ----

type DesignUnit struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Type            string   `json:"type,omitempty" enum:"lesson,activity,assessment,video,reading"`
	Order           int      `json:"order"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	ObjectiveIDs    []string `json:"objective_ids,omitempty"`
}

type DesignModule struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Order           int          `json:"order"`
	DurationMinutes int          `json:"duration_minutes,omitempty"`
	Units           []DesignUnit `json:"units"`
}

type InstructionalStrategy struct {
	Microlearning  bool `json:"microlearning"`
	Gamification   bool `json:"gamification"`
	SocialLearning bool `json:"social_learning"`
	Scenarios      bool `json:"scenarios"`
	Assessments    bool `json:"assessments"`
	SelfPaced      bool `json:"self_paced"`
}

// TaxonomyDistribution holds Bloom percentages for the six cognitive levels.
type TaxonomyDistribution struct {
	Remember   int `json:"remember"`
	Understand int `json:"understand"`
	Apply      int `json:"apply"`
	Analyze    int `json:"analyze"`
	Evaluate   int `json:"evaluate"`
	Create     int `json:"create"`
}

func (t TaxonomyDistribution) values() map[string]int {
	return map[string]int{
		"remember": t.Remember, "understand": t.Understand, "apply": t.Apply,
		"analyze": t.Analyze, "evaluate": t.Evaluate, "create": t.Create,
	}
}

func (t TaxonomyDistribution) Total() int {
	return t.Remember + t.Understand + t.Apply + t.Analyze + t.Evaluate + t.Create
}

// Validate checks each value is a percentage. When enforceTotal is set the
// six values must also sum to exactly 100.
func (t TaxonomyDistribution) Validate(enforceTotal bool) error {
	for name, v := range t.values() {
		if err := percent("taxonomy."+name, float64(v)); err != nil {
			return err
		}
	}
	if enforceTotal && t.Total() != 100 {
		return invalid("taxonomy distribution must total 100, got %d", t.Total())
	}
	return nil
}

type CourseDesign struct {
	RecordMeta
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Modules     []DesignModule        `json:"modules"`
	Strategy    InstructionalStrategy `json:"strategy"`
	Taxonomy    TaxonomyDistribution  `json:"taxonomy"`
}

func (CourseDesign) Kind() RecordKind { return KindDesign }

func (d CourseDesign) Validate() error {
	if d.Title == "" {
		return invalid("design title is required")
	}
	for _, m := range d.Modules {
		if m.Title == "" {
			return invalid("module title is required")
		}
		if err := nonNegative(fmt.Sprintf("module %q duration_minutes", m.Title), int64(m.DurationMinutes)); err != nil {
			return err
		}
		for _, u := range m.Units {
			if u.Title == "" {
				return invalid("unit title is required in module %q", m.Title)
			}
			if err := nonNegative(fmt.Sprintf("unit %q duration_minutes", u.Title), int64(u.DurationMinutes)); err != nil {
				return err
			}
		}
	}
	return d.Taxonomy.Validate(false)
}

// TotalMinutes sums module durations, falling back to unit durations.
func (d CourseDesign) TotalMinutes() int {
	total := 0
	for _, m := range d.Modules {
		if m.DurationMinutes > 0 {
			total += m.DurationMinutes
			continue
		}
		for _, u := range m.Units {
			total += u.DurationMinutes
		}
	}
	return total
}

// Renumber sorts modules and units by order and renumbers both contiguously from zero.
func (d *CourseDesign) Renumber() {
	sort.SliceStable(d.Modules, func(i, j int) bool { return d.Modules[i].Order < d.Modules[j].Order })
	for i := range d.Modules {
		d.Modules[i].Order = i
		units := d.Modules[i].Units
		sort.SliceStable(units, func(a, b int) bool { return units[a].Order < units[b].Order })
		for j := range units {
			units[j].Order = j
		}
	}
}

// ---- develop ----

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

type ReviewStatus string

const (
	ReviewUnreviewed ReviewStatus = "unreviewed"
	ReviewApproved   ReviewStatus = "approved"
	ReviewRejected   ReviewStatus = "rejected"
)

type GenerationParams struct {
	Tone        string  `json:"tone,omitempty"`
	Length      string  `json:"length,omitempty" enum:"short,medium,long"`
	Audience    string  `json:"audience,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type GeneratedQuestion struct {
	ID          string   `json:"id"`
	Type        string   `json:"type,omitempty" enum:"multiple_choice,true_false,short_answer"`
	Text        string   `json:"text"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

type GeneratedAssessment struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	PassingScore int                 `json:"passing_score,omitempty"`
	Questions    []GeneratedQuestion `json:"questions"`
}

type AIGeneration struct {
	RecordMeta
	Type           string                `json:"type" enum:"course_outline,lesson,assessment,summary,scenario"`
	Prompt         string                `json:"prompt,omitempty"`
	Params         GenerationParams      `json:"params"`
	Output         string                `json:"output,omitempty"`
	Status         GenerationStatus      `json:"status" enum:"pending,generating,completed,failed"`
	Assessments    []GeneratedAssessment `json:"assessments,omitempty"`
	CourseID       string                `json:"course_id,omitempty"`
	QualityIssues  []string              `json:"quality_issues,omitempty"`
	ReviewRequired bool                  `json:"review_required"`
	ReviewStatus   ReviewStatus          `json:"review_status" enum:"unreviewed,approved,rejected"`
	ReviewedBy     string                `json:"reviewed_by,omitempty"`
	ReviewedAt     *string               `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewNotes    string                `json:"review_notes,omitempty"`
}

func (AIGeneration) Kind() RecordKind { return KindGeneration }

var generationTypes = map[string]bool{
	"course_outline": true, "lesson": true, "assessment": true, "summary": true, "scenario": true,
}

func (g AIGeneration) Validate() error {
	if !generationTypes[g.Type] {
		return invalid("unknown generation type %q", g.Type)
	}
	switch g.Status {
	case GenerationPending, GenerationGenerating, GenerationCompleted, GenerationFailed:
	default:
		return invalid("unknown generation status %q", g.Status)
	}
	switch g.ReviewStatus {
	case ReviewUnreviewed, ReviewApproved, ReviewRejected:
	default:
		return invalid("unknown review status %q", g.ReviewStatus)
	}
	if g.Params.Temperature < 0 || g.Params.Temperature > 2 {
		return invalid("params.temperature must be between 0 and 2")
	}
	if err := nonNegative("params.max_tokens", int64(g.Params.MaxTokens)); err != nil {
		return err
	}
	for _, a := range g.Assessments {
		if err := percent(fmt.Sprintf("assessment %q passing_score", a.Title), float64(a.PassingScore)); err != nil {
			return err
		}
	}
	return nil
}

// CheckQuality lists problems with the generated output. An assessment with
// fewer than minQuestions questions is flagged.
func (g AIGeneration) CheckQuality(minQuestions int) []string {
	var issues []string
	if g.Status == GenerationCompleted && g.Output == "" && len(g.Assessments) == 0 {
		issues = append(issues, "generation produced no output")
	}
	for _, a := range g.Assessments {
		if len(a.Questions) < minQuestions {
			issues = append(issues, fmt.Sprintf("assessment %q has %d questions; at least %d expected", a.Title, len(a.Questions), minQuestions))
		}
		for i, q := range a.Questions {
			if q.Text == "" {
				issues = append(issues, fmt.Sprintf("assessment %q question %d has no text", a.Title, i+1))
			}
		}
	}
	return issues
}

// ---- implement ----

type EnrollmentRule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type" enum:"all,department,role,group,manual"`
	Value      string `json:"value,omitempty"`
	AutoEnroll bool   `json:"auto_enroll"`
	DueInDays  int    `json:"due_in_days,omitempty"`
}

func (r EnrollmentRule) Validate() error {
	if r.Name == "" {
		return invalid("enrollment rule name is required")
	}
	switch r.Type {
	case "all", "manual":
	case "department", "role", "group":
		if r.Value == "" {
			return invalid("enrollment rule %q of type %s needs a value", r.Name, r.Type)
		}
	default:
		return invalid("enrollment rule %q has unknown type %q", r.Name, r.Type)
	}
	return nonNegative(fmt.Sprintf("enrollment rule %q due_in_days", r.Name), int64(r.DueInDays))
}

type Schedule struct {
	StartDate *string `json:"start_date,omitempty" format:"date"`
	EndDate   *string `json:"end_date,omitempty" format:"date"`
	Timezone  string  `json:"timezone,omitempty"`
}

type NotificationPolicy struct {
	Email               bool  `json:"email"`
	InApp               bool  `json:"in_app"`
	ReminderDays        []int `json:"reminder_days,omitempty"`
	EscalationAfterDays int   `json:"escalation_after_days,omitempty"`
}

type EnrollmentCounters struct {
	Enrolled   int `json:"enrolled"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

func (c EnrollmentCounters) Validate() error {
	for name, v := range map[string]int{"enrolled": c.Enrolled, "in_progress": c.InProgress, "completed": c.Completed, "overdue": c.Overdue} {
		if err := nonNegative("enrollment."+name, int64(v)); err != nil {
			return err
		}
	}
	if c.Completed > c.Enrolled {
		return invalid("enrollment.completed (%d) exceeds enrollment.enrolled (%d)", c.Completed, c.Enrolled)
	}
	return nil
}

type Implementation struct {
	RecordMeta
	EnrollmentRules []EnrollmentRule   `json:"enrollment_rules"`
	Schedule        Schedule           `json:"schedule"`
	Notifications   NotificationPolicy `json:"notifications"`
	Enrollment      EnrollmentCounters `json:"enrollment"`
	CourseIDs       []string           `json:"course_ids,omitempty"`
	LearningPathIDs []string           `json:"learning_path_ids,omitempty"`
}

func (Implementation) Kind() RecordKind { return KindImplementation }

func (im Implementation) Validate() error {
	for _, r := range im.EnrollmentRules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, d := range im.Notifications.ReminderDays {
		if err := nonNegative("notifications.reminder_days", int64(d)); err != nil {
			return err
		}
	}
	if err := nonNegative("notifications.escalation_after_days", int64(im.Notifications.EscalationAfterDays)); err != nil {
		return err
	}
	if s := im.Schedule; s.StartDate != nil && s.EndDate != nil && *s.EndDate < *s.StartDate {
		return invalid("schedule end_date is before start_date")
	}
	return im.Enrollment.Validate()
}

// ---- evaluate ----

// GeneralDepartment is the bucket for learners without a department.
const GeneralDepartment = "general"

type AnalyticsMetrics struct {
	Enrollments        int     `json:"enrollments"`
	Completions        int     `json:"completions"`
	CompletionRate     float64 `json:"completion_rate"`
	AverageScore       float64 `json:"average_score"`
	AverageTimeMinutes float64 `json:"average_time_minutes"`
	SatisfactionScore  float64 `json:"satisfaction_score"`
}

type TimeSeriesPoint struct {
	Date         string  `json:"date" format:"date"`
	Enrollments  int     `json:"enrollments"`
	Completions  int     `json:"completions"`
	AverageScore float64 `json:"average_score"`
}

type DepartmentBreakdown struct {
	Department     string  `json:"department"`
	Learners       int     `json:"learners"`
	Completions    int     `json:"completions"`
	CompletionRate float64 `json:"completion_rate"`
	AverageScore   float64 `json:"average_score"`
}

type LearnerProgress struct {
	LearnerID        string   `json:"learner_id"`
	Name             string   `json:"name,omitempty"`
	Department       string   `json:"department,omitempty"`
	Progress         float64  `json:"progress"`
	Score            *float64 `json:"score,omitempty"`
	Completed        bool     `json:"completed"`
	TimeSpentMinutes int      `json:"time_spent_minutes,omitempty"`
	LastActivityAt   *string  `json:"last_activity_at,omitempty" format:"date-time"`
}

type Analytics struct {
	RecordMeta
	Metrics     AnalyticsMetrics      `json:"metrics"`
	TimeSeries  []TimeSeriesPoint     `json:"time_series"`
	Departments []DepartmentBreakdown `json:"departments"`
	Learners    []LearnerProgress     `json:"learners"`
}

func (Analytics) Kind() RecordKind { return KindAnalytics }

func (a Analytics) Validate() error {
	m := a.Metrics
	if err := nonNegative("metrics.enrollments", int64(m.Enrollments)); err != nil {
		return err
	}
	if err := nonNegative("metrics.completions", int64(m.Completions)); err != nil {
		return err
	}
	for name, v := range map[string]float64{"metrics.completion_rate": m.CompletionRate, "metrics.average_score": m.AverageScore, "metrics.satisfaction_score": m.SatisfactionScore} {
		if err := percent(name, v); err != nil {
			return err
		}
	}
	if m.AverageTimeMinutes < 0 {
		return invalid("metrics.average_time_minutes must not be negative")
	}
	for _, p := range a.TimeSeries {
		if p.Date == "" {
			return invalid("time series point date is required")
		}
		if p.Enrollments < 0 || p.Completions < 0 {
			return invalid("time series point %s has negative counts", p.Date)
		}
	}
	for _, l := range a.Learners {
		if l.LearnerID == "" {
			return invalid("learner_id is required")
		}
		if err := percent("learner progress", l.Progress); err != nil {
			return err
		}
		if l.Score != nil {
			if err := percent("learner score", *l.Score); err != nil {
				return err
			}
		}
	}
	return nil
}

// BreakdownByDepartment groups learners by department. Learners without a
// department land in the "general" bucket. Rows are sorted by department.
func BreakdownByDepartment(learners []LearnerProgress) []DepartmentBreakdown {
	type acc struct {
		learners, completions, scored int
		scoreSum float64
	}
	groups := map[string]*acc{}
	for _, l := range learners {
		dept := l.Department
		if dept == "" {
			dept = GeneralDepartment
		}
		g, ok := groups[dept]
		if !ok {
			g = &acc{}
			groups[dept] = g
		}
		g.learners++
		if l.Completed {
			g.completions++
		}
		if l.Score != nil {
			g.scored++
			g.scoreSum += *l.Score
		}
	}
	out := make([]DepartmentBreakdown, 0, len(groups))
	for dept, g := range groups {
		row := DepartmentBreakdown{Department: dept, Learners: g.learners, Completions: g.completions}
		if g.learners > 0 {
			row.CompletionRate = float64(g.completions) * 100 / float64(g.learners)
		}
		if g.scored > 0 {
			row.AverageScore = g.scoreSum / float64(g.scored)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}

// ---- govern ----

type PrivacySettings struct {
	DataRetentionDays    int      `json:"data_retention_days,omitempty"`
	AnonymizeLearnerData bool     `json:"anonymize_learner_data"`
	ConsentRequired      bool     `json:"consent_required"`
	PIIFields            []string `json:"pii_fields,omitempty"`
}

type SecuritySettings struct {
	SSORequired    bool     `json:"sso_required"`
	MFARequired    bool     `json:"mfa_required"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	AccessLevel    string   `json:"access_level,omitempty" enum:"public,internal,restricted,confidential"`
}

type AIMonitoring struct {
	BiasScore          float64 `json:"bias_score"`
	AccuracyScore      float64 `json:"accuracy_score"`
	ContentSafetyScore float64 `json:"content_safety_score"`
	FlaggedItems       int     `json:"flagged_items"`
	LastReviewedAt     *string `json:"last_reviewed_at,omitempty" format:"date-time"`
}

type RetentionPolicy struct {
	ArchiveAfterDays int  `json:"archive_after_days,omitempty"`
	DeleteAfterDays  int  `json:"delete_after_days,omitempty"`
	LegalHold        bool `json:"legal_hold"`
}

type Governance struct {
	RecordMeta
	Privacy      PrivacySettings  `json:"privacy"`
	Security     SecuritySettings `json:"security"`
	AIMonitoring AIMonitoring     `json:"ai_monitoring"`
	Approval     ApprovalWorkflow `json:"approval"`
	Retention    RetentionPolicy  `json:"retention"`
}

func (Governance) Kind() RecordKind { return KindGovernance }

func (g Governance) Validate() error {
	if err := nonNegative("privacy.data_retention_days", int64(g.Privacy.DataRetentionDays)); err != nil {
		return err
	}
	switch g.Security.AccessLevel {
	case "", "public", "internal", "restricted", "confidential":
	default:
		return invalid("unknown security access level %q", g.Security.AccessLevel)
	}
	m := g.AIMonitoring
	for name, v := range map[string]float64{"ai_monitoring.bias_score": m.BiasScore, "ai_monitoring.accuracy_score": m.AccuracyScore, "ai_monitoring.content_safety_score": m.ContentSafetyScore} {
		if err := percent(name, v); err != nil {
			return err
		}
	}
	if err := nonNegative("ai_monitoring.flagged_items", int64(m.FlaggedItems)); err != nil {
		return err
	}
	r := g.Retention
	if err := nonNegative("retention.archive_after_days", int64(r.ArchiveAfterDays)); err != nil {
		return err
	}
	if err := nonNegative("retention.delete_after_days", int64(r.DeleteAfterDays)); err != nil {
		return err
	}
	if r.ArchiveAfterDays > 0 && r.DeleteAfterDays > 0 && r.DeleteAfterDays < r.ArchiveAfterDays {
		return invalid("retention.delete_after_days must not be shorter than retention.archive_after_days")
	}
	return g.Approval.Validate()
}
