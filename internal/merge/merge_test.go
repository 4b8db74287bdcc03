package merge

// Tests for merge group detection and consolidation.
// Covers: file-overlap candidacy, transitive grouping, semantic candidacy
// via a mock embedder, summarizer fallback, archiving, partial failures.

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vthunder/scribe/internal/index"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

// mockSummarizer implements capability.Summarizer
type mockSummarizer struct {
	out  string
	err  error
	down bool
}

func (m *mockSummarizer) Available() bool { return !m.down }

func (m *mockSummarizer) Summarize(_ context.Context, fragments []string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.out != "" {
		return m.out, nil
	}
	return strings.Join(fragments, " | "), nil
}

// mockEmbedder returns a fixed vector per summary
type mockEmbedder struct {
	vectors map[string][]float64
	down    bool
}

func (m *mockEmbedder) Available() bool { return !m.down }
func (m *mockEmbedder) Model() string  { return "mock-embed" }

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec, ok := m.vectors[text]
	if !ok {
		return nil, errors.New("no vector for text")
	}
	return vec, nil
}

func setupCoordinator(t *testing.T, summarizer *mockSummarizer, embedder *mockEmbedder) (*Coordinator, *store.Store, *index.Index) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	idx := index.New()

	c := NewCoordinator(st, idx, nil, nil)
	if summarizer != nil {
		c.summarizer = summarizer
	}
	if embedder != nil {
		c.embedder = embedder
	}
	return c, st, idx
}

func create(t *testing.T, st *store.Store, prompt, summary string, files []string) *types.Record {
	t.Helper()
	rec, err := st.Create(store.CreateRequest{
		Prompt:       prompt,
		Summary:      summary,
		RelatedPaths: files,
		Body:         "body of " + summary,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestDetectGroupsFileOverlap(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	create(t, st, "p1", "first take", []string{"a.go", "b.go"})
	create(t, st, "p2", "second take", []string{"a.go", "b.go"})
	create(t, st, "p3", "unrelated", []string{"z.go"})

	groups, err := c.DetectGroups(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("DetectGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Members) != 2 {
		t.Errorf("Expected 2 members, got %d", len(groups[0].Members))
	}
	if len(groups[0].Reasons) != 1 || groups[0].Reasons[0] != "file_overlap" {
		t.Errorf("Unexpected reasons: %v", groups[0].Reasons)
	}
}

func TestDetectGroupsTransitive(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	// doc1 overlaps doc2, doc2 overlaps doc3; never doc1 with doc3 directly.
	// Overlapping pairs coalesce into one cluster.
	create(t, st, "p1", "doc1", []string{"a.go", "b.go"})
	create(t, st, "p2", "doc2", []string{"a.go", "b.go", "c.go"})
	create(t, st, "p3", "doc3", []string{"b.go", "c.go"})

	groups, err := c.DetectGroups(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("DetectGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 transitive group, got %d", len(groups))
	}
	if len(groups[0].Members) != 3 {
		t.Errorf("Expected 3 members, got %d", len(groups[0].Members))
	}
	// Members come back oldest first
	if groups[0].Members[0].Summary != "doc1" {
		t.Errorf("Expected doc1 first, got %s", groups[0].Members[0].Summary)
	}
}

func TestDetectGroupsPartition(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	create(t, st, "p1", "auth one", []string{"auth.go"})
	create(t, st, "p2", "auth two", []string{"auth.go"})
	create(t, st, "p3", "db one", []string{"db.go"})
	create(t, st, "p4", "db two", []string{"db.go"})

	groups, err := c.DetectGroups(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("DetectGroups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	seen := map[string]bool{}
	for _, g := range groups {
		for _, id := range g.IDs() {
			if seen[id] {
				t.Errorf("Record %s appears in two groups", id)
			}
			seen[id] = true
		}
	}
}

func TestDetectGroupsSemantic(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float64{
		"jwt auth middleware": {1, 0, 0},
		"jwt auth handler":    {0.99, 0.1, 0},
		"database migration":  {0, 0, 1},
	}}
	c, st, _ := setupCoordinator(t, nil, embedder)
	create(t, st, "p1", "jwt auth middleware", []string{"auth.go"})
	create(t, st, "p2", "jwt auth handler", []string{"handler.go"})
	create(t, st, "p3", "database migration", []string{"db.go"})

	groups, err := c.DetectGroups(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("DetectGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 semantic group, got %d", len(groups))
	}
	if len(groups[0].Reasons) != 1 || groups[0].Reasons[0] != "semantic" {
		t.Errorf("Unexpected reasons: %v", groups[0].Reasons)
	}
}

func TestDetectGroupsEmbedderDown(t *testing.T) {
	embedder := &mockEmbedder{down: true}
	c, st, _ := setupCoordinator(t, nil, embedder)
	create(t, st, "p1", "one", []string{"a.go"})
	create(t, st, "p2", "two", []string{"b.go"})

	// No shared files and no embeddings: nothing to merge
	groups, err := c.DetectGroups(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("DetectGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected no groups, got %d", len(groups))
	}
}

func TestDetectGroupsCancelled(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	create(t, st, "p1", "one", []string{"a.go"})
	create(t, st, "p2", "two", []string{"a.go"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.DetectGroups(ctx, 0.75); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMergeTooFewMembers(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	rec := create(t, st, "p1", "lonely", []string{"a.go"})

	_, err := c.Merge(context.Background(), Group{Members: []*types.Record{rec}})
	if !errors.Is(err, types.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	// Nothing mutated
	if len(st.ListActive()) != 1 || len(st.ListArchived()) != 0 {
		t.Error("Failed merge should not touch the store")
	}
}

func TestMergeConsolidates(t *testing.T) {
	summarizer := &mockSummarizer{out: "unified body text"}
	c, st, _ := setupCoordinator(t, summarizer, nil)
	a := create(t, st, "p1", "first", []string{"a.go", "b.go"})
	b := create(t, st, "p2", "second", []string{"b.go", "c.go"})
	a, _ = st.Get(a.ID)
	b, _ = st.Get(b.ID)

	merged, err := c.Merge(context.Background(), Group{Members: []*types.Record{a, b}})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if merged.MergeLineage == nil {
		t.Fatal("Expected merge lineage")
	}
	if merged.MergeLineage.Method != MethodUnified {
		t.Errorf("Expected %s method, got %s", MethodUnified, merged.MergeLineage.Method)
	}
	if len(merged.MergeLineage.SourceIDs) != 2 {
		t.Errorf("Expected 2 source ids, got %v", merged.MergeLineage.SourceIDs)
	}
	if merged.Body != "unified body text" {
		t.Errorf("Expected unified body, got %q", merged.Body)
	}

	// Related paths are the union of the sources'
	if len(merged.RelatedPaths) != 3 {
		t.Errorf("Expected 3 related paths, got %v", merged.RelatedPaths)
	}

	// Sources archived, never deleted
	for _, src := range []*types.Record{a, b} {
		got, err := st.Get(src.ID)
		if err != nil {
			t.Fatalf("Source %s vanished: %v", src.ID, err)
		}
		if got.Status != types.StatusArchived {
			t.Errorf("Source %s not archived: %s", src.ID, got.Status)
		}
	}
	if len(st.ListActive()) != 1 {
		t.Errorf("Expected only the merged record active, got %d", len(st.ListActive()))
	}
}

func TestMergeSummarizerFailureFallsBack(t *testing.T) {
	summarizer := &mockSummarizer{err: errors.New("model overloaded")}
	c, st, _ := setupCoordinator(t, summarizer, nil)
	a := create(t, st, "p1", "first", []string{"a.go"})
	b := create(t, st, "p2", "second", []string{"a.go"})
	a, _ = st.Get(a.ID)
	b, _ = st.Get(b.ID)

	merged, err := c.Merge(context.Background(), Group{Members: []*types.Record{a, b}})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.MergeLineage.Method != MethodConcat {
		t.Errorf("Expected %s fallback, got %s", MethodConcat, merged.MergeLineage.Method)
	}
	// Concatenation keeps each source under its own section header
	if !strings.Contains(merged.Body, "## Source: "+a.ID) || !strings.Contains(merged.Body, "## Source: "+b.ID) {
		t.Errorf("Concatenated body missing source sections: %q", merged.Body)
	}
}

func TestRunFullCycle(t *testing.T) {
	c, st, idx := setupCoordinator(t, &mockSummarizer{out: "unified"}, nil)
	create(t, st, "p1", "first take", []string{"a.go", "b.go"})
	create(t, st, "p2", "second take", []string{"a.go", "b.go"})
	create(t, st, "p3", "unrelated", []string{"z.go"})
	idx.Rebuild(st.ListActive())

	report, err := c.Run(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Stage != StageDone {
		t.Errorf("Expected done stage, got %s", report.Stage)
	}
	if report.GroupsDetected != 1 || report.GroupsProcessed != 1 {
		t.Errorf("Unexpected group counts: %+v", report)
	}
	if report.RecordsConsolidated != 2 {
		t.Errorf("Expected 2 records consolidated, got %d", report.RecordsConsolidated)
	}
	if len(report.Issues) != 0 {
		t.Errorf("Unexpected issues: %v", report.Issues)
	}

	// Store: merged + unrelated active, both sources archived
	if len(st.ListActive()) != 2 {
		t.Errorf("Expected 2 active records, got %d", len(st.ListActive()))
	}
	if len(st.ListArchived()) != 2 {
		t.Errorf("Expected 2 archived records, got %d", len(st.ListArchived()))
	}

	// Index rebuilt from the post-merge active set
	if idx.Len() != 2 {
		t.Errorf("Index not rebuilt: %d entries", idx.Len())
	}
	if len(report.MergedIDs) != 1 {
		t.Fatalf("Expected 1 merged id, got %v", report.MergedIDs)
	}
	if _, ok := idx.Get(report.MergedIDs[0]); !ok {
		t.Error("Merged record missing from the rebuilt index")
	}
}

func TestRunNothingToMerge(t *testing.T) {
	c, st, idx := setupCoordinator(t, nil, nil)
	create(t, st, "p1", "only record", []string{"a.go"})
	idx.Rebuild(st.ListActive())

	report, err := c.Run(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.GroupsDetected != 0 || report.RecordsConsolidated != 0 {
		t.Errorf("Expected empty cycle, got %+v", report)
	}
	if len(st.ListActive()) != 1 {
		t.Error("Empty cycle should not touch the store")
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	c, st, _ := setupCoordinator(t, nil, nil)
	create(t, st, "p1", "first take", []string{"a.go"})
	create(t, st, "p2", "second take", []string{"a.go"})

	groups, err := c.Preview(context.Background(), 0.75)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if len(st.ListActive()) != 2 || len(st.ListArchived()) != 0 {
		t.Error("Preview mutated the store")
	}
}
