package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

const EventQualityReviewCompleted = "QUALITY_REVIEW_COMPLETED"

// QualityThreshold is the aggregate score a batch needs to move to FINAL.
const QualityThreshold = 0.85

// QualityGate returns FINAL when avg clears the threshold.
func QualityGate(avg float64) (lifecycle.State, bool) {
	if avg >= QualityThreshold {
		return lifecycle.Final, true
	}
	return "", false
}

// QualityScores are the per-check results for one piece of content.
type QualityScores struct {
	Grammar      *float64 `json:"grammar,omitempty"`
	Formatting   *float64 `json:"formatting,omitempty"`
	Completeness *float64 `json:"completeness,omitempty"`
	Consistency  *float64 `json:"consistency,omitempty"`
}

// QualityReport is what Assess derives from one task.
type QualityReport struct {
	Score           float64
	Scores          QualityScores
	Issues          []string
	Recommendations []string
	WordCount       int
}

type qualityAgent struct{ base }

func (p QualityPayload) validate() error {
	if len(p.Tasks) == 0 {
		return apperrors.Validation("quality payload missing 'tasks'")
	}
	return nil
}

func (a *qualityAgent) Run(ctx context.Context, in Input) Result {
	var p QualityPayload
	if err := decodeInto(in.Payload, &p); err != nil {
		return a.fail("quality payload is malformed: %v", err)
	}
	if err := p.validate(); err != nil {
		return a.fail("%v", err)
	}

	now := a.deps.now()
	details := make([]itemDetail, 0, len(p.Tasks))
	var reviewed []string
	var total float64
	valid := 0

	for _, t := range p.Tasks {
		item, status, err := a.loadWorkItem(ctx, t.TaskID)
		if status != "" {
			details = append(details, detail(t.TaskID, status, err))
			continue
		}
		valid++

		rep := Assess(t)
		readability := "Needs improvement"
		if rep.Score > 0.8 {
			readability = "Professional"
		}
		_, err = a.deps.Store.UpdateWorkItem(ctx, item.ID, models.WorkItemPatch{
			Status: models.Ptr(models.StatusCompleted),
			Metadata: map[string]interface{}{
				"quality_review": map[string]interface{}{
					"quality_score":         rep.Score,
					"detailed_scores":       rep.Scores.toMap(),
					"requirements_coverage": coverage(rep.Scores),
					"issues":                toInterfaces(rep.Issues),
					"recommendations":       toInterfaces(rep.Recommendations),
					"word_count":            rep.WordCount,
					"readability":           readability,
					"source_agent":          a.kind.SourceName(),
					"timestamp":             now.Format(timeLayout),
				},
			},
		})
		if err != nil {
			a.logger.Warn("Failed to store quality review", zap.String("task_id", item.ID), zap.Error(err))
			details = append(details, detail(item.ID, ItemStoreFailed, err))
			continue
		}
		reviewed = append(reviewed, item.ID)
		total += rep.Score
		d := detail(item.ID, ItemReviewed, nil)
		d["quality_score"] = rep.Score
		d["issues_found"] = len(rep.Issues)
		details = append(details, d)
	}

	// the gate sees the unrounded mean; only reported values are rounded
	var raw float64
	if len(reviewed) > 0 {
		raw = total / float64(len(reviewed))
	}
	avg := round2(raw)

	res := Result{
		Success:  valid > 0,
		Message:  "quality reviewed " + itoa(len(reviewed)) + " sections",
		RecordID: in.RecordID,
		Changes: map[string]interface{}{
			"reviewed_task_ids": toInterfaces(reviewed),
			"avg_quality_score": avg,
		},
		Events: map[string]models.Event{
			"quality_review_completed": a.event(EventQualityReviewCompleted, in.RecordID, now, map[string]interface{}{
				"num_tasks":         len(p.Tasks),
				"num_reviewed":      len(reviewed),
				"avg_quality_score": avg,
				"details":           detailsPayload(details),
			}),
		},
	}
	if len(reviewed) > 0 {
		if next, ok := QualityGate(raw); ok {
			res.NextState = suggest(next)
		}
	}
	return res
}

func (s QualityScores) toMap() map[string]interface{} {
	m := map[string]interface{}{}
	if s.Grammar != nil {
		m["grammar"] = *s.Grammar
	}
	if s.Formatting != nil {
		m["formatting"] = *s.Formatting
	}
	if s.Completeness != nil {
		m["completeness"] = *s.Completeness
	}
	if s.Consistency != nil {
		m["consistency"] = *s.Consistency
	}
	return m
}

func coverage(s QualityScores) interface{} {
	if s.Completeness == nil {
		return nil
	}
	return *s.Completeness
}

func enabled(b *bool) bool { return b == nil || *b }

// Assess runs the enabled checks over t.Content.
func Assess(t QualityTask) QualityReport {
	c := t.Content
	rep := QualityReport{WordCount: len(strings.Fields(c))}
	var sum float64
	n := 0
	add := func(dst **float64, v float64) {
		v = round2(v)
		*dst = &v
		sum += v
		n++
	}
	if enabled(t.QualityCriteria.Grammar) {
		add(&rep.Scores.Grammar, GrammarScore(c))
	}
	if enabled(t.QualityCriteria.Formatting) {
		add(&rep.Scores.Formatting, FormattingScore(c))
	}
	if enabled(t.QualityCriteria.Completeness) {
		add(&rep.Scores.Completeness, CompletenessScore(c, t.RequirementsChecklist))
	}
	if enabled(t.QualityCriteria.Consistency) {
		add(&rep.Scores.Consistency, ConsistencyScore(c))
	}
	if n == 0 {
		rep.Score = 0.8
	} else {
		rep.Score = round2(sum / float64(n))
	}

	flag := func(score *float64, below float64, issue, rec string) {
		if score != nil && *score < below {
			rep.Issues = append(rep.Issues, issue)
			rep.Recommendations = append(rep.Recommendations, rec)
		}
	}
	flag(rep.Scores.Grammar, 0.8, "Grammar and style improvements needed", "Run content through professional editing")
	flag(rep.Scores.Formatting, 0.8, "Formatting inconsistencies detected", "Apply consistent formatting template")
	flag(rep.Scores.Completeness, 0.9, "Some requirements may not be fully addressed", "Review and expand sections missing requirement coverage")
	flag(rep.Scores.Consistency, 0.8, "Inconsistent terminology or messaging", "Standardize key terms and messaging across sections")
	if rep.Issues == nil {
		rep.Issues = []string{}
		rep.Recommendations = []string{}
	}
	return rep
}

// GrammarScore penalises doubled punctuation, doubled spaces and excessive
// exclamation marks.
func GrammarScore(content string) float64 {
	if len(content) < 50 {
		return 0.7
	}
	issues := 0
	if strings.Contains(content, "..") {
		issues++
	}
	if strings.Contains(content, "  ") {
		issues++
	}
	if strings.Count(content, "!") > len(content)/100 {
		issues++
	}
	score := 0.8 - 0.1*float64(issues)
	if score < 0.6 {
		score = 0.6
	}
	return score
}

// FormattingScore checks heading consistency and list usage.
func FormattingScore(content string) float64 {
	score := 0.9
	if len(headingLevels(content)) > 1 {
		score -= 0.1
	}
	if len(content) > 200 && !hasListLine(content) {
		score -= 0.1
	}
	if score < 0.7 {
		score = 0.7
	}
	return score
}

// CompletenessScore is the fraction of requirements mentioned in content.
func CompletenessScore(content string, requirements []string) float64 {
	if len(requirements) == 0 {
		return 0.9
	}
	lower := strings.ToLower(content)
	covered := 0
	for _, req := range requirements {
		for _, w := range strings.Fields(strings.ToLower(req)) {
			if len(w) > 3 && strings.Contains(lower, w) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(requirements))
}

// ConsistencyScore penalises long content that mixes many heading levels.
func ConsistencyScore(content string) float64 {
	if len(strings.Split(content, "\n")) < 5 {
		return 0.8
	}
	score := 0.9
	if len(headingLevels(content)) > 2 {
		score -= 0.1
	}
	if score < 0.7 {
		score = 0.7
	}
	return score
}

func headingLevels(content string) map[int]struct{} {
	levels := map[int]struct{}{}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		levels[level] = struct{}{}
	}
	return levels
}

func hasListLine(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "•") || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "1.") {
			return true
		}
	}
	return false
}
