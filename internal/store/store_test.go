package store

// Tests for the file-backed record store.
// Covers: create/get, duplicate fingerprints, query, update, archive/delete
// lifecycle, persistence across reopen, validation.

import (
	"errors"
	"testing"
	"time"

	"github.com/vthunder/scribe/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return st
}

func mustCreate(t *testing.T, st *Store, req CreateRequest) *types.Record {
	t.Helper()
	if req.Summary == "" {
		req.Summary = "test record summary"
	}
	rec, err := st.Create(req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	st := newTestStore(t)

	rec := mustCreate(t, st, CreateRequest{
		Prompt:       "add jwt auth",
		Summary:      "added jwt auth middleware",
		Tags:         []string{"auth", "jwt"},
		RelatedPaths: []string{"internal/auth/auth.go"},
		Authors:      []string{"alice"},
		Body:         "notes\n",
		Actor:        "alice",
	})

	if rec.ID == "" {
		t.Fatal("Expected generated id")
	}
	if rec.Status != types.StatusActive {
		t.Errorf("Expected active status, got %s", rec.Status)
	}
	if rec.PromptFingerprint != types.Fingerprint("add jwt auth") {
		t.Error("Fingerprint not derived from prompt")
	}
	if len(rec.ChangeHistory) != 1 || rec.ChangeHistory[0].Action != "created" {
		t.Errorf("Expected single created history entry, got %v", rec.ChangeHistory)
	}
	// Ultra summary defaulted from the summary
	if rec.UltraSummary == "" {
		t.Error("Expected defaulted ultra summary")
	}

	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Summary != rec.Summary || got.Body != "notes\n" {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get("rec-v1-does-not-exist")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Create(CreateRequest{Prompt: "p"})
	if !types.IsValidation(err) {
		t.Errorf("Expected validation error for empty summary, got %v", err)
	}

	manyTags := make([]string, types.MaxTags+1)
	for i := range manyTags {
		manyTags[i] = string(rune('a' + i))
	}
	_, err = st.Create(CreateRequest{Prompt: "p", Summary: "s", Tags: manyTags})
	if !types.IsValidation(err) {
		t.Errorf("Expected validation error for too many tags, got %v", err)
	}

	_, err = st.Create(CreateRequest{
		Prompt: "p", Summary: "s",
		MergeLineage: &types.MergeLineage{SourceIDs: []string{"only-one"}},
	})
	if !types.IsValidation(err) {
		t.Errorf("Expected validation error for 1-source lineage, got %v", err)
	}
}

func TestMergeRecordExceedsTagCap(t *testing.T) {
	st := newTestStore(t)

	manyTags := make([]string, types.MaxTags+2)
	for i := range manyTags {
		manyTags[i] = string(rune('a'+i)) + "tag"
	}
	// A merged record carries the union of its sources' tags and may exceed
	// the per-record cap.
	rec := mustCreate(t, st, CreateRequest{
		Prompt: "p", Summary: "s", Tags: manyTags,
		MergeLineage: &types.MergeLineage{
			SourceIDs: []string{"rec-a", "rec-b"},
			Method:    "concat",
			Timestamp: time.Now(),
		},
	})
	if len(rec.Tags) != len(manyTags) {
		t.Errorf("Expected %d tags on merged record, got %d", len(manyTags), len(rec.Tags))
	}
}

func TestGetByFingerprint(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreate(t, st, CreateRequest{Prompt: "unique prompt text"})

	got, ok := st.GetByFingerprint(types.Fingerprint("unique prompt text"))
	if !ok || got.ID != rec.ID {
		t.Fatalf("Expected to find %s, got ok=%v", rec.ID, ok)
	}

	if _, ok := st.GetByFingerprint(types.Fingerprint("other prompt")); ok {
		t.Error("Unexpected fingerprint match")
	}

	// Archived records no longer match
	if err := st.Archive(rec.ID, "test", "done"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if _, ok := st.GetByFingerprint(types.Fingerprint("unique prompt text")); ok {
		t.Error("Archived record should not match by fingerprint")
	}
}

func TestQuery(t *testing.T) {
	st := newTestStore(t)
	mustCreate(t, st, CreateRequest{Prompt: "a", Summary: "jwt auth middleware", Tags: []string{"auth"}})
	mustCreate(t, st, CreateRequest{Prompt: "b", Summary: "database migration", Tags: []string{"storage"}})

	if got := st.Query(Filter{Keyword: "jwt"}); len(got) != 1 {
		t.Errorf("Keyword filter: expected 1 record, got %d", len(got))
	}
	if got := st.Query(Filter{Tags: []string{"storage"}}); len(got) != 1 {
		t.Errorf("Tag filter: expected 1 record, got %d", len(got))
	}
	if got := st.Query(Filter{}); len(got) != 2 {
		t.Errorf("Empty filter: expected 2 records, got %d", len(got))
	}
	if got := st.Query(Filter{Keyword: "nomatch"}); len(got) != 0 {
		t.Errorf("Expected no matches, got %d", len(got))
	}
}

func TestUpdate(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreate(t, st, CreateRequest{Prompt: "p", Summary: "before"})

	after := "after"
	got, err := st.Update(rec.ID, Patch{Summary: &after, Actor: "bob", Reason: "clarified"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Summary != "after" {
		t.Errorf("Summary not updated: %q", got.Summary)
	}
	if !got.UpdatedAt.After(rec.UpdatedAt) && !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}
	last := got.ChangeHistory[len(got.ChangeHistory)-1]
	if last.Action != "updated" || last.Actor != "bob" || last.Reason != "clarified" {
		t.Errorf("Unexpected history entry: %+v", last)
	}

	// Nil pointers leave fields untouched
	got2, err := st.Update(rec.ID, Patch{Tags: []string{"new"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got2.Summary != "after" {
		t.Error("Nil summary pointer should not clear the summary")
	}
	if len(got2.Tags) != 1 || got2.Tags[0] != "new" {
		t.Errorf("Tags not replaced: %v", got2.Tags)
	}

	if _, err := st.Update("rec-v1-missing", Patch{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestArchiveLifecycle(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreate(t, st, CreateRequest{Prompt: "p"})

	if err := st.Archive(rec.ID, "test", "superseded"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	// Still retrievable by id
	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get after archive failed: %v", err)
	}
	if got.Status != types.StatusArchived {
		t.Errorf("Expected archived status, got %s", got.Status)
	}
	last := got.ChangeHistory[len(got.ChangeHistory)-1]
	if last.Action != "archived" || last.Reason != "superseded" {
		t.Errorf("Unexpected history entry: %+v", last)
	}

	// Gone from the active set
	if len(st.ListActive()) != 0 {
		t.Error("Archived record still listed active")
	}
	if len(st.ListArchived()) != 1 {
		t.Error("Archived record not in archived list")
	}

	// Archiving twice conflicts
	if err := st.Archive(rec.ID, "test", "again"); !errors.Is(err, types.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreate(t, st, CreateRequest{Prompt: "p"})

	if err := st.Delete(rec.ID, "test"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := st.Get(rec.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := st.Delete(rec.ID, "test"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	active := mustCreate(t, st, CreateRequest{Prompt: "a", Summary: "active one", Body: "body text"})
	archived := mustCreate(t, st, CreateRequest{Prompt: "b", Summary: "archived one"})
	if err := st.Archive(archived.ID, "test", "old"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	st2, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := st2.Get(active.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Body != "body text" || got.Status != types.StatusActive {
		t.Errorf("Active record corrupted on reload: %+v", got)
	}
	got, err = st2.Get(archived.ID)
	if err != nil {
		t.Fatalf("Get archived after reopen failed: %v", err)
	}
	if got.Status != types.StatusArchived {
		t.Errorf("Archived record lost its status on reload: %s", got.Status)
	}
}

func TestArchiveOlderThan(t *testing.T) {
	st := newTestStore(t)
	old := mustCreate(t, st, CreateRequest{Prompt: "old"})
	mustCreate(t, st, CreateRequest{Prompt: "fresh"})

	// Backdate the first record
	aged, err := st.Get(old.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	aged.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := st.Put(aged); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	n, err := st.ArchiveOlderThan(24*time.Hour, "test")
	if err != nil {
		t.Fatalf("ArchiveOlderThan failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 record archived, got %d", n)
	}
	if len(st.ListActive()) != 1 {
		t.Errorf("Expected 1 active record left, got %d", len(st.ListActive()))
	}
}

func TestSetQualityMarks(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreate(t, st, CreateRequest{Prompt: "p"})

	marks := types.QualityMarks{Freshness: 100, Completeness: 70, Total: 68, ScoredAt: time.Now()}
	if err := st.SetQualityMarks(rec.ID, marks); err != nil {
		t.Fatalf("SetQualityMarks failed: %v", err)
	}

	got, err := st.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.QualityMarks == nil || got.QualityMarks.Total != 68 {
		t.Errorf("Marks not persisted: %+v", got.QualityMarks)
	}
	// Score caching is bookkeeping, not a content change
	if !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Error("SetQualityMarks should not bump UpdatedAt")
	}
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	a := mustCreate(t, st, CreateRequest{Prompt: "a"})
	mustCreate(t, st, CreateRequest{Prompt: "b"})
	if err := st.Archive(a.ID, "test", "old"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	stats := st.Stats()
	if stats["active"] != 1 || stats["archived"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}
