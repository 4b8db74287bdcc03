// Package index keeps an in-memory mirror of active records with derived
// lookups by date, tag, and related file. The index is a pure view over the
// store: rebuilt wholesale after structural changes, updated incrementally
// after single creates and removals.
package index

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vthunder/scribe/internal/types"
)

// snapshot is an immutable view. Readers grab the current snapshot pointer
// and work on it without further locking; writers build a new snapshot and
// swap it in, so a reader never observes a half-populated index.
type snapshot struct {
	records map[string]*types.Record
	order   []string // creation order, oldest first; breaks search ties
	byDate  map[string][]string
	byTag   map[string][]string
	byFile  map[string][]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		records: map[string]*types.Record{},
		byDate:  map[string][]string{},
		byTag:   map[string][]string{},
		byFile:  map[string][]string{},
	}
}

// Index is the swappable cache over active records. Readers are lock-free
// against the current snapshot; writers serialize on mu while building the
// replacement.
type Index struct {
	mu   sync.Mutex
	snap atomicSnapshot
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.snap.store(emptySnapshot())
	return idx
}

func dateKey(rec *types.Record) string {
	return rec.CreatedAt.Format("2006-01-02")
}

// Rebuild replaces the full record map and all three lookup maps in one
// atomic swap.
func (idx *Index) Rebuild(records []*types.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sorted := append([]*types.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	next := emptySnapshot()
	for _, rec := range sorted {
		insertInto(next, rec)
	}
	idx.snap.store(next)
}

// Insert adds one record incrementally, appending to each relevant bucket.
func (idx *Index) Insert(rec *types.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.load()
	next := cloneSnapshot(cur)
	if _, exists := next.records[rec.ID]; exists {
		removeFrom(next, rec.ID)
	}
	insertInto(next, rec)
	idx.snap.store(next)
}

// Remove drops a record from the full map and every bucket it was indexed
// under. No-op for unknown ids.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.load()
	if _, ok := cur.records[id]; !ok {
		return
	}
	next := cloneSnapshot(cur)
	removeFrom(next, id)
	idx.snap.store(next)
}

func insertInto(s *snapshot, rec *types.Record) {
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	day := dateKey(rec)
	s.byDate[day] = append(s.byDate[day], rec.ID)
	for _, tag := range rec.Tags {
		s.byTag[tag] = append(s.byTag[tag], rec.ID)
	}
	for _, path := range rec.RelatedPaths {
		s.byFile[path] = append(s.byFile[path], rec.ID)
	}
}

func removeFrom(s *snapshot, id string) {
	rec := s.records[id]
	delete(s.records, id)
	s.order = without(s.order, id)
	day := dateKey(rec)
	s.byDate[day] = without(s.byDate[day], id)
	if len(s.byDate[day]) == 0 {
		delete(s.byDate, day)
	}
	for _, tag := range rec.Tags {
		s.byTag[tag] = without(s.byTag[tag], id)
		if len(s.byTag[tag]) == 0 {
			delete(s.byTag, tag)
		}
	}
	for _, path := range rec.RelatedPaths {
		s.byFile[path] = without(s.byFile[path], id)
		if len(s.byFile[path]) == 0 {
			delete(s.byFile, path)
		}
	}
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{
		records: make(map[string]*types.Record, len(s.records)+1),
		order:   append([]string(nil), s.order...),
		byDate:  make(map[string][]string, len(s.byDate)),
		byTag:   make(map[string][]string, len(s.byTag)),
		byFile:  make(map[string][]string, len(s.byFile)),
	}
	for id, rec := range s.records {
		next.records[id] = rec
	}
	for k, v := range s.byDate {
		next.byDate[k] = append([]string(nil), v...)
	}
	for k, v := range s.byTag {
		next.byTag[k] = append([]string(nil), v...)
	}
	for k, v := range s.byFile {
		next.byFile[k] = append([]string(nil), v...)
	}
	return next
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Match pairs a search hit with its score.
type Match struct {
	Record *types.Record
	Score  int
}

// Search returns the top limit records for the query, best first.
func (idx *Index) Search(query string, limit int) []*types.Record {
	matches := idx.SearchScored(query, limit)
	out := make([]*types.Record, len(matches))
	for i, m := range matches {
		out[i] = m.Record
	}
	return out
}

// SearchScored scores every cached record against the query: +10 when the
// query appears as a substring of the summary, +5 per tag the query
// mentions, +3 per related path the query mentions (full path or base name).
// Returns the top limit matches by descending score; ties keep insertion
// order.
func (idx *Index) SearchScored(query string, limit int) []Match {
	snap := idx.snap.load()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}

	type scored struct {
		rec   *types.Record
		score int
	}
	var candidates []scored
	for _, id := range snap.order {
		rec := snap.records[id]
		score := 0
		if strings.Contains(strings.ToLower(rec.Summary), q) {
			score += 10
		}
		for _, tag := range rec.Tags {
			if tag != "" && strings.Contains(q, strings.ToLower(tag)) {
				score += 5
			}
		}
		for _, path := range rec.RelatedPaths {
			lp := strings.ToLower(path)
			base := strings.ToLower(filepath.Base(path))
			if strings.Contains(q, lp) || (base != "" && strings.Contains(q, base)) {
				score += 3
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{rec, score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Match, len(candidates))
	for i, c := range candidates {
		out[i] = Match{Record: c.rec, Score: c.score}
	}
	return out
}

// Recent returns the n most-recently-created records, newest first.
func (idx *Index) Recent(n int) []*types.Record {
	snap := idx.snap.load()
	if n <= 0 {
		return nil
	}
	start := len(snap.order) - n
	if start < 0 {
		start = 0
	}
	var out []*types.Record
	for i := len(snap.order) - 1; i >= start; i-- {
		out = append(out, snap.records[snap.order[i]])
	}
	return out
}

// Get returns a cached record by id.
func (idx *Index) Get(id string) (*types.Record, bool) {
	rec, ok := idx.snap.load().records[id]
	return rec, ok
}

// ByTag returns the records indexed under a tag, insertion order.
func (idx *Index) ByTag(tag string) []*types.Record {
	snap := idx.snap.load()
	return resolve(snap, snap.byTag[tag])
}

// ByFile returns the records that reference a related path, insertion order.
func (idx *Index) ByFile(path string) []*types.Record {
	snap := idx.snap.load()
	return resolve(snap, snap.byFile[path])
}

// ByDate returns the records created on a YYYY-MM-DD day, insertion order.
func (idx *Index) ByDate(day string) []*types.Record {
	snap := idx.snap.load()
	return resolve(snap, snap.byDate[day])
}

// Len returns the number of cached records.
func (idx *Index) Len() int {
	return len(idx.snap.load().records)
}

func resolve(s *snapshot, ids []string) []*types.Record {
	out := make([]*types.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
