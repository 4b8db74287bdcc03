package quality

// Tests for record quality scoring.
// Covers: freshness decay and floor, completeness components, total
// weighting, stale/incomplete/contradiction findings, score caching.

import (
	"testing"
	"time"

	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func scorerAt(now time.Time) *Scorer {
	return &Scorer{Now: func() time.Time { return now }}
}

func recordAged(days int, summary string, tags, files []string) *types.Record {
	ts := testNow.AddDate(0, 0, -days)
	return &types.Record{
		ID:           types.NewID(),
		CreatedAt:    ts,
		UpdatedAt:    ts,
		Summary:      summary,
		Tags:         tags,
		RelatedPaths: files,
	}
}

func TestScoreFreshRecord(t *testing.T) {
	s := scorerAt(testNow)
	rec := recordAged(0, "a summary longer than ten chars", []string{"tag"}, []string{"a.go"})

	got := s.Score(rec)
	if got.Freshness != 100 {
		t.Errorf("Freshness = %v, want 100", got.Freshness)
	}
	if got.Completeness != 100 {
		t.Errorf("Completeness = %v, want 100", got.Completeness)
	}
	// 0.4*100 + 0.4*100 + 0.2*0
	if got.Total != 80 {
		t.Errorf("Total = %v, want 80", got.Total)
	}
}

func TestScoreFreshnessDecay(t *testing.T) {
	s := scorerAt(testNow)

	if got := s.Score(recordAged(30, "summary of decent length", nil, nil)); got.Freshness != 70 {
		t.Errorf("30-day freshness = %v, want 70", got.Freshness)
	}

	// Past 100 days the decay bottoms out at zero
	if got := s.Score(recordAged(120, "summary of decent length", nil, nil)); got.Freshness != 0 {
		t.Errorf("120-day freshness = %v, want 0", got.Freshness)
	}
	if got := s.Score(recordAged(400, "summary of decent length", nil, nil)); got.Freshness != 0 {
		t.Errorf("400-day freshness = %v, want 0", got.Freshness)
	}
}

func TestScoreOldEmptyRecord(t *testing.T) {
	s := scorerAt(testNow)
	got := s.Score(recordAged(120, "short", nil, nil))
	if got.Freshness != 0 || got.Completeness != 0 || got.Total != 0 {
		t.Errorf("Expected all-zero scores, got %+v", got)
	}
}

func TestScoreCompletenessComponents(t *testing.T) {
	s := scorerAt(testNow)

	cases := []struct {
		name    string
		summary string
		tags    []string
		files   []string
		want    float64
	}{
		{"empty", "short", nil, nil, 0},
		{"summary only", "long enough summary here", nil, nil, 40},
		{"summary and tags", "long enough summary here", []string{"t"}, nil, 70},
		{"tags and files only", "short", []string{"t"}, []string{"f.go"}, 60},
		{"everything", "long enough summary here", []string{"t"}, []string{"f.go"}, 100},
	}
	for _, c := range cases {
		got := s.Score(recordAged(0, c.summary, c.tags, c.files))
		if got.Completeness != c.want {
			t.Errorf("%s: completeness = %v, want %v", c.name, got.Completeness, c.want)
		}
	}
}

func TestScoreReferenceCount(t *testing.T) {
	s := scorerAt(testNow)
	rec := recordAged(0, "long enough summary here", []string{"t"}, []string{"f.go"})
	rec.QualityMarks = &types.QualityMarks{ReferenceCount: 50}

	got := s.Score(rec)
	if got.ReferenceCount != 50 {
		t.Errorf("ReferenceCount = %v, want 50", got.ReferenceCount)
	}
	// 0.4*100 + 0.4*100 + 0.2*50
	if got.Total != 90 {
		t.Errorf("Total = %v, want 90", got.Total)
	}
}

func TestReportFindings(t *testing.T) {
	s := scorerAt(testNow)

	stale := recordAged(120, "a perfectly complete summary", []string{"t"}, []string{"x.go"})
	incomplete := recordAged(0, "short", nil, nil)
	fine := recordAged(0, "a perfectly complete summary", []string{"t"}, []string{"y.go"})

	report := s.Report([]*types.Record{stale, incomplete, fine}, false)
	if report.TotalDocuments != 3 {
		t.Errorf("TotalDocuments = %d, want 3", report.TotalDocuments)
	}

	kinds := map[IssueKind]int{}
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	if kinds[IssueStale] != 1 {
		t.Errorf("Expected 1 stale issue, got %d", kinds[IssueStale])
	}
	if kinds[IssueIncomplete] == 0 {
		t.Error("Expected an incomplete issue")
	}
	if kinds[IssueContradiction] != 0 {
		t.Errorf("Unexpected contradiction issues: %d", kinds[IssueContradiction])
	}
}

func TestReportContradictions(t *testing.T) {
	s := scorerAt(testNow)
	a := recordAged(0, "first take on the auth flow", []string{"t"}, []string{"auth.go"})
	b := recordAged(0, "second take on the auth flow", []string{"t"}, []string{"auth.go", "other.go"})

	report := s.Report([]*types.Record{a, b}, false)

	var contradiction *Issue
	for i := range report.Issues {
		if report.Issues[i].Kind == IssueContradiction {
			contradiction = &report.Issues[i]
		}
	}
	if contradiction == nil {
		t.Fatal("Expected a contradiction issue for the shared file")
	}
	if contradiction.File != "auth.go" {
		t.Errorf("Expected auth.go flagged, got %s", contradiction.File)
	}
	if len(contradiction.RecordIDs) != 2 {
		t.Errorf("Expected both record ids, got %v", contradiction.RecordIDs)
	}
}

func TestReportEmpty(t *testing.T) {
	s := scorerAt(testNow)
	report := s.Report(nil, false)
	if report.TotalDocuments != 0 || report.AverageScore != 0 || len(report.Issues) != 0 {
		t.Errorf("Expected empty report, got %+v", report)
	}
}

func TestReportFixCachesScores(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec, err := st.Create(store.CreateRequest{
		Prompt:       "p",
		Summary:      "a perfectly complete summary",
		Tags:         []string{"t"},
		RelatedPaths: []string{"a.go"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s := NewScorer(st)
	s.Now = func() time.Time { return rec.CreatedAt }
	s.Report(st.ListActive(), true)

	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.QualityMarks == nil {
		t.Fatal("Expected cached quality marks")
	}
	if got.QualityMarks.Total != 80 {
		t.Errorf("Cached total = %v, want 80", got.QualityMarks.Total)
	}
	if got.QualityMarks.ScoredAt.IsZero() {
		t.Error("Expected ScoredAt to be set")
	}
}
