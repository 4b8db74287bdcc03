// Package quality scores records for freshness, completeness, and reference
// weight, and aggregates the per-record scores into a report with stale,
// incomplete, and contradiction findings.
package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/vthunder/scribe/internal/logging"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

// Scores is the per-record breakdown. All values are 0..100 except Total,
// which is the weighted composite.
type Scores struct {
	Freshness      float64 `json:"freshness"`
	Completeness   float64 `json:"completeness"`
	ReferenceCount float64 `json:"reference_count"`
	Total          float64 `json:"total"`
}

// IssueKind classifies a quality finding.
type IssueKind string

const (
	IssueStale         IssueKind = "stale"
	IssueIncomplete    IssueKind = "incomplete"
	IssueContradiction IssueKind = "contradiction"
)

// Issue is one quality finding. RecordID is empty for contradiction issues,
// which concern a file shared across records.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	RecordID  string    `json:"record_id,omitempty"`
	File      string    `json:"file,omitempty"`
	RecordIDs []string  `json:"record_ids,omitempty"`
	Detail    string    `json:"detail"`
}

// Report aggregates scores across a record set.
type Report struct {
	TotalDocuments  int      `json:"total_documents"`
	AverageScore    float64  `json:"average_score"`
	Issues          []Issue  `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Thresholds for report findings.
const (
	staleBelow      = 50.0
	incompleteBelow = 60.0
)

// Scorer computes quality scores. Now is swappable for deterministic tests;
// the optional store lets Report cache scores back onto records when fix is
// requested.
type Scorer struct {
	Store *store.Store
	Now   func() time.Time
}

// NewScorer creates a scorer over an optional store.
func NewScorer(st *store.Store) *Scorer {
	return &Scorer{Store: st}
}

func (s *Scorer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Score computes the per-record breakdown:
// freshness  = max(0, 100 - ageInDays), zero past 100 days by design;
// completeness accumulates 40/30/30 for summary > 10 chars, any tags, any
// related paths; referenceCount is carried from the record (default 0), not
// computed here; total = 0.4*freshness + 0.4*completeness + 0.2*refs.
func (s *Scorer) Score(rec *types.Record) Scores {
	age := rec.AgeDays(s.now())
	freshness := 100 - age
	if freshness < 0 {
		freshness = 0
	}

	completeness := 0.0
	if len(rec.Summary) > 10 {
		completeness += 40
	}
	if len(rec.Tags) > 0 {
		completeness += 30
	}
	if len(rec.RelatedPaths) > 0 {
		completeness += 30
	}

	refs := 0.0
	if rec.QualityMarks != nil {
		refs = rec.QualityMarks.ReferenceCount
	}

	return Scores{
		Freshness:      freshness,
		Completeness:   completeness,
		ReferenceCount: refs,
		Total:          0.4*freshness + 0.4*completeness + 0.2*refs,
	}
}

// Report scores every record, flags stale and incomplete ones, and folds in
// contradiction findings: any file referenced by more than one active record
// yields one issue per offending file. With fix set, the computed scores are
// cached back onto the records as quality marks.
func (s *Scorer) Report(records []*types.Record, fix bool) *Report {
	report := &Report{TotalDocuments: len(records)}
	if len(records) == 0 {
		return report
	}

	now := s.now()
	fileRefs := map[string][]string{}
	sum := 0.0
	for _, rec := range records {
		scores := s.Score(rec)
		sum += scores.Total

		if scores.Freshness < staleBelow {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueStale,
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("freshness %.0f, last touched %.0f days ago", scores.Freshness, rec.AgeDays(now)),
			})
		}
		if scores.Completeness < incompleteBelow {
			report.Issues = append(report.Issues, Issue{
				Kind:     IssueIncomplete,
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("completeness %.0f", scores.Completeness),
			})
		}
		for _, path := range rec.RelatedPaths {
			fileRefs[path] = append(fileRefs[path], rec.ID)
		}

		if fix && s.Store != nil {
			marks := types.QualityMarks{
				Freshness:      scores.Freshness,
				Completeness:   scores.Completeness,
				ReferenceCount: scores.ReferenceCount,
				Total:          scores.Total,
				ScoredAt:       now,
			}
			if err := s.Store.SetQualityMarks(rec.ID, marks); err != nil {
				logging.Warn("quality", "caching marks for %s failed: %v", rec.ID, err)
			}
		}
	}
	report.AverageScore = sum / float64(len(records))

	files := make([]string, 0, len(fileRefs))
	for path := range fileRefs {
		files = append(files, path)
	}
	sort.Strings(files)
	for _, path := range files {
		ids := fileRefs[path]
		if len(ids) > 1 {
			report.Issues = append(report.Issues, Issue{
				Kind:      IssueContradiction,
				File:      path,
				RecordIDs: ids,
				Detail:    fmt.Sprintf("%s referenced by %d active records", path, len(ids)),
			})
		}
	}

	report.Recommendations = recommend(report)
	return report
}

func recommend(report *Report) []string {
	counts := map[IssueKind]int{}
	for _, issue := range report.Issues {
		counts[issue.Kind]++
	}
	var recs []string
	if n := counts[IssueStale]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d stale records: review and archive or refresh them", n))
	}
	if n := counts[IssueIncomplete]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d incomplete records: add tags, related paths, or a longer summary", n))
	}
	if n := counts[IssueContradiction]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d files covered by multiple records: run a merge cycle", n))
	}
	return recs
}
