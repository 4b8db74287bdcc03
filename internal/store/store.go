// Package store owns the canonical on-disk representation of records: one
// file per record, YAML header plus body. Active records live under
// <state>/records/, archived ones under <state>/records/archive/, and a
// deleted record's file is removed outright.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/logging"
	"github.com/vthunder/scribe/internal/types"
)

// Store manages record files with thread-safe operations. All records are
// mirrored in memory on Open; mutations write the file first and only then
// update the in-memory map, so a failed write leaves prior state untouched.
type Store struct {
	recordsDir string
	archiveDir string
	trail      *audit.Trail

	mu      sync.RWMutex
	records map[string]*types.Record
}

// Open creates the record directories under statePath and loads every record
// found there. Malformed files are skipped with a warning; the integrity
// auditor reports on them separately.
func Open(statePath string) (*Store, error) {
	s := &Store{
		recordsDir: filepath.Join(statePath, "records"),
		records:    make(map[string]*types.Record),
	}
	s.archiveDir = filepath.Join(s.recordsDir, "archive")

	if err := os.MkdirAll(s.archiveDir, 0755); err != nil {
		return nil, fmt.Errorf("create record directories: %w", err)
	}
	if err := s.loadDir(s.recordsDir, types.StatusActive); err != nil {
		return nil, err
	}
	if err := s.loadDir(s.archiveDir, types.StatusArchived); err != nil {
		return nil, err
	}
	return s, nil
}

// SetAuditTrail wires the append-only event sink. Optional; a nil trail
// disables audit events.
func (s *Store) SetAuditTrail(t *audit.Trail) {
	s.trail = t
}

func (s *Store) loadDir(dir string, status types.Status) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read record %s: %w", entry.Name(), err)
		}
		rec, err := Decode(data)
		if err != nil {
			logging.Warn("store", "skipping malformed record file %s: %v", entry.Name(), err)
			continue
		}
		rec.Status = status
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *Store) pathFor(rec *types.Record) string {
	dir := s.recordsDir
	if rec.Status == types.StatusArchived {
		dir = s.archiveDir
	}
	return filepath.Join(dir, rec.ID+".md")
}

// writeRecord persists rec atomically: write to a temp file, then rename.
func (s *Store) writeRecord(rec *types.Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	path := s.pathFor(rec)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// CreateRequest carries the fields for a new record. Actor lands in the
// change history; MergeLineage is set only by the merge coordinator.
type CreateRequest struct {
	Prompt          string
	Summary         string
	UltraSummary    string
	StandardSummary string
	Body            string
	Authors         []string
	Tags            []string
	RelatedPaths    []string
	EmbeddingModel  string
	MergeLineage    *types.MergeLineage
	Actor           string
}

// Create assigns an id and timestamps, initializes the change history with a
// "created" entry, persists the record, and returns it.
func (s *Store) Create(req CreateRequest) (*types.Record, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return nil, &types.ValidationError{Field: "summary", Msg: "must not be empty"}
	}
	if len(req.Tags) > types.MaxTags && req.MergeLineage == nil {
		return nil, &types.ValidationError{Field: "tags", Msg: fmt.Sprintf("at most %d tags", types.MaxTags)}
	}
	if req.MergeLineage != nil && len(req.MergeLineage.SourceIDs) < 2 {
		return nil, &types.ValidationError{Field: "mergeLineage", Msg: "needs at least 2 source ids"}
	}

	actor := req.Actor
	if actor == "" {
		actor = "scribe"
	}
	authors := req.Authors
	if len(authors) == 0 {
		authors = []string{actor}
	}

	now := time.Now().UTC()
	rec := &types.Record{
		ID:                types.NewID(),
		CreatedAt:         now,
		UpdatedAt:         now,
		Authors:           authors,
		Tags:              dedupe(req.Tags),
		PromptFingerprint: types.Fingerprint(req.Prompt),
		RelatedPaths:      append([]string(nil), req.RelatedPaths...),
		UltraSummary:      req.UltraSummary,
		Summary:           req.Summary,
		StandardSummary:   req.StandardSummary,
		EmbeddingModel:    req.EmbeddingModel,
		Version:           types.IDVersion,
		MergeLineage:      req.MergeLineage,
		ChangeHistory:     []types.ChangeEntry{{Timestamp: now, Action: "created", Actor: actor}},
		Body:              req.Body,
		Status:            types.StatusActive,
	}
	if rec.UltraSummary == "" {
		rec.UltraSummary = logging.Truncate(rec.Summary, 80)
	}
	if rec.StandardSummary == "" {
		rec.StandardSummary = rec.Summary
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}
	s.records[rec.ID] = rec

	s.logEvent("record_created", actor, audit.ImpactLow, map[string]any{"id": rec.ID})
	return rec.Clone(), nil
}

// Get returns a record (active or archived) by id.
func (s *Store) Get(id string) (*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	return rec.Clone(), nil
}

// GetByFingerprint finds an active record with the given prompt fingerprint.
// Used for exact-duplicate detection before creating a new record.
func (s *Store) GetByFingerprint(fp string) (*types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Status == types.StatusActive && rec.PromptFingerprint == fp {
			return rec.Clone(), true
		}
	}
	return nil, false
}

// Filter narrows Query results. Keyword matches summaries and body
// case-insensitively; Tags match by set intersection.
type Filter struct {
	Keyword string
	Tags    []string
}

// Query returns active records matching the filter, newest first.
func (s *Store) Query(f Filter) []*types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyword := strings.ToLower(f.Keyword)
	var out []*types.Record
	for _, rec := range s.records {
		if rec.Status != types.StatusActive {
			continue
		}
		if keyword != "" {
			haystack := strings.ToLower(rec.Summary + "\n" + rec.StandardSummary + "\n" + rec.Body)
			if !strings.Contains(haystack, keyword) {
				continue
			}
		}
		if len(f.Tags) > 0 && !intersects(rec.Tags, f.Tags) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sortNewestFirst(out)
	return out
}

// Patch is a partial update. Nil pointer/slice fields are left unchanged.
type Patch struct {
	Summary         *string
	UltraSummary    *string
	StandardSummary *string
	Body            *string
	Tags            []string
	RelatedPaths    []string
	Authors         []string
	Actor           string
	Reason          string
}

// Update applies a patch, bumps updatedAt, and appends a change history
// entry. Fails with NotFound for unknown ids; a failed write leaves the
// record untouched.
func (s *Store) Update(id string, p Patch) (*types.Record, error) {
	if p.Tags != nil && len(p.Tags) > types.MaxTags {
		return nil, &types.ValidationError{Field: "tags", Msg: fmt.Sprintf("at most %d tags", types.MaxTags)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}

	rec := cur.Clone()
	if p.Summary != nil {
		rec.Summary = *p.Summary
	}
	if p.UltraSummary != nil {
		rec.UltraSummary = *p.UltraSummary
	}
	if p.StandardSummary != nil {
		rec.StandardSummary = *p.StandardSummary
	}
	if p.Body != nil {
		rec.Body = *p.Body
	}
	if p.Tags != nil {
		rec.Tags = dedupe(p.Tags)
	}
	if p.RelatedPaths != nil {
		rec.RelatedPaths = append([]string(nil), p.RelatedPaths...)
	}
	if p.Authors != nil {
		rec.Authors = append([]string(nil), p.Authors...)
	}

	actor := p.Actor
	if actor == "" {
		actor = "scribe"
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	rec.ChangeHistory = append(rec.ChangeHistory, types.ChangeEntry{
		Timestamp: now, Action: "updated", Actor: actor, Reason: p.Reason,
	})

	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}
	s.records[id] = rec

	s.logEvent("record_updated", actor, audit.ImpactLow, map[string]any{"id": id})
	return rec.Clone(), nil
}

// Archive moves an active record to the archive. Archived records stay
// retrievable by id but drop out of active listings and merge scans.
func (s *Store) Archive(id, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	if cur.Status == types.StatusArchived {
		return fmt.Errorf("%s already archived: %w", id, types.ErrConflict)
	}

	if actor == "" {
		actor = "scribe"
	}
	rec := cur.Clone()
	now := time.Now().UTC()
	rec.Status = types.StatusArchived
	rec.UpdatedAt = now
	rec.ChangeHistory = append(rec.ChangeHistory, types.ChangeEntry{
		Timestamp: now, Action: "archived", Actor: actor, Reason: reason,
	})

	// Write the archived copy first; removing the active file only after
	// keeps the record recoverable if either step fails.
	if err := s.writeRecord(rec); err != nil {
		return err
	}
	oldPath := filepath.Join(s.recordsDir, id+".md")
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove active file: %w", err)
	}
	s.records[id] = rec

	s.logEvent("record_archived", actor, audit.ImpactMedium, map[string]any{"id": id, "reason": reason})
	return nil
}

// Delete removes a record entirely. Terminal: no tombstone remains.
func (s *Store) Delete(id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	if err := os.Remove(s.pathFor(rec)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete record: %w", err)
	}
	delete(s.records, id)

	if actor == "" {
		actor = "scribe"
	}
	s.logEvent("record_deleted", actor, audit.ImpactHigh, map[string]any{"id": id})
	return nil
}

// ListActive returns all active records, newest first.
func (s *Store) ListActive() []*types.Record {
	return s.listByStatus(types.StatusActive)
}

// ListArchived returns all archived records, newest first.
func (s *Store) ListArchived() []*types.Record {
	return s.listByStatus(types.StatusArchived)
}

func (s *Store) listByStatus(status types.Status) []*types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

// ArchiveOlderThan archives active records whose last update is older than
// maxAge. Returns how many records were archived.
func (s *Store) ArchiveOlderThan(maxAge time.Duration, actor string) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for _, rec := range s.ListActive() {
		ts := rec.UpdatedAt
		if ts.IsZero() {
			ts = rec.CreatedAt
		}
		if ts.Before(cutoff) {
			stale = append(stale, rec.ID)
		}
	}
	archived := 0
	for _, id := range stale {
		if err := s.Archive(id, actor, "aged past retention threshold"); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

// SetQualityMarks persists cached quality scores without bumping updatedAt
// or the change history: the marks describe the record, they don't change it.
func (s *Store) SetQualityMarks(id string, marks types.QualityMarks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	rec := cur.Clone()
	rec.QualityMarks = &marks
	if err := s.writeRecord(rec); err != nil {
		return err
	}
	s.records[id] = rec
	return nil
}

// Put overwrites a record in place. Used by the integrity auditor's repair
// path, which needs to persist fixes that normal validation would reject
// mid-repair. The record must already exist.
func (s *Store) Put(rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("%s: %w", rec.ID, types.ErrNotFound)
	}
	next := rec.Clone()
	next.Status = cur.Status
	if err := s.writeRecord(next); err != nil {
		return err
	}
	s.records[rec.ID] = next
	return nil
}

// Stats returns record counts by lifecycle state.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := map[string]int{"active": 0, "archived": 0}
	for _, rec := range s.records {
		stats[string(rec.Status)]++
	}
	return stats
}

func (s *Store) logEvent(action, actor string, impact audit.Impact, details map[string]any) {
	if s.trail == nil {
		return
	}
	if err := s.trail.Record(action, actor, impact, details); err != nil {
		logging.Warn("store", "audit log failed: %v", err)
	}
}

func sortNewestFirst(recs []*types.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if set[y] {
			return true
		}
	}
	return false
}
