// Package merge runs consolidation cycles over the active record set:
// pairwise similarity scanning, union-find grouping, summarizer-backed
// consolidation, archiving of sources, and reindexing. Failures along the
// way surface in the cycle report; merges already written stay written.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/budget"
	"github.com/vthunder/scribe/internal/capability"
	"github.com/vthunder/scribe/internal/embedcache"
	"github.com/vthunder/scribe/internal/index"
	"github.com/vthunder/scribe/internal/logging"
	"github.com/vthunder/scribe/internal/similarity"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

// Stage names the phases of a merge cycle, in order.
type Stage string

const (
	StageScanning      Stage = "scanning"
	StageGrouping      Stage = "grouping"
	StageConsolidating Stage = "consolidating"
	StageArchiving     Stage = "archiving"
	StageReindexing    Stage = "reindexing"
	StageDone          Stage = "done"
)

// Merge method labels recorded in lineage.
const (
	MethodUnified = "ai_unified"
	MethodConcat  = "concat"
)

// Candidate is one scan hit: a pair that passed the merge-candidate
// predicate, with the score and the reason it qualified.
type Candidate struct {
	Score  float64
	Reason string
	AID    string
	BID    string
}

// Group is a maximal cluster of transitively overlapping candidates.
// Score is the max pair similarity observed inside the cluster.
type Group struct {
	Members []*types.Record
	Score   float64
	Reasons []string
}

// IDs returns the member record ids.
func (g *Group) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// Report summarizes one merge cycle. Stage is the last stage reached;
// Issues carries per-group failures that did not stop the cycle.
type Report struct {
	Stage               Stage    `json:"stage"`
	GroupsDetected      int      `json:"groups_detected"`
	GroupsProcessed     int      `json:"groups_processed"`
	RecordsConsolidated int      `json:"records_consolidated"`
	MergedIDs           []string `json:"merged_ids,omitempty"`
	Issues              []string `json:"issues,omitempty"`
}

// DefaultThreshold is the semantic similarity bound for merge candidacy
// when the caller doesn't supply one.
const DefaultThreshold = 0.75

// Coordinator drives consolidation. Only the coordinator and the store
// mutate records; everything else reads snapshots.
type Coordinator struct {
	store      *store.Store
	idx        *index.Index
	summarizer capability.Summarizer
	embedder   capability.Embedder

	// Optional collaborators.
	Cache    *embedcache.Cache
	Trail    *audit.Trail
	Throttle *budget.Throttler

	// SummarizeTimeout bounds the unification call per group; past it the
	// merge degrades to literal concatenation.
	SummarizeTimeout time.Duration
}

// NewCoordinator wires the required collaborators. summarizer may be nil;
// consolidation then always takes the concatenation path.
func NewCoordinator(st *store.Store, idx *index.Index, summarizer capability.Summarizer, embedder capability.Embedder) *Coordinator {
	return &Coordinator{
		store:            st,
		idx:              idx,
		summarizer:       summarizer,
		embedder:         embedder,
		SummarizeTimeout: 30 * time.Second,
	}
}

// DetectGroups scans all active records pairwise and clusters candidate
// pairs with union-find. The scan operates on a point-in-time snapshot of
// the active set and is cancellable through ctx.
func (c *Coordinator) DetectGroups(ctx context.Context, threshold float64) ([]Group, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	records := c.store.ListActive()
	byID := make(map[string]*types.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	vectors := c.embedRecords(ctx, records)

	var candidates []Candidate
	for i := 0; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Throttle.Wait(ctx); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]

			semantic := -1.0
			va, vb := vectors[a.ID], vectors[b.ID]
			if len(va) > 0 && len(vb) > 0 {
				semantic = capability.CosineSimilarity(va, vb)
			}

			ok, reason := similarity.IsMergeCandidate(a, b, semantic, threshold)
			if !ok {
				continue
			}
			score := similarity.FileOverlap(a, b)
			if semantic > score {
				score = semantic
			}
			candidates = append(candidates, Candidate{Score: score, Reason: reason, AID: a.ID, BID: b.ID})
		}
	}

	// Grouping: coalesce overlapping pairs; clusters sharing a record merge.
	uf := newUnionFind()
	pairScore := map[string]float64{}
	pairReason := map[string]map[string]bool{}
	for _, cand := range candidates {
		uf.union(cand.AID, cand.BID)
	}
	for _, cand := range candidates {
		root := uf.find(cand.AID)
		if cand.Score > pairScore[root] {
			pairScore[root] = cand.Score
		}
		if pairReason[root] == nil {
			pairReason[root] = map[string]bool{}
		}
		pairReason[root][cand.Reason] = true
	}

	var groups []Group
	for root, ids := range uf.sets() {
		if len(ids) < 2 {
			continue
		}
		members := make([]*types.Record, 0, len(ids))
		for _, id := range ids {
			members = append(members, byID[id])
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		})
		reasons := make([]string, 0, len(pairReason[root]))
		for r := range pairReason[root] {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		groups = append(groups, Group{Members: members, Score: pairScore[root], Reasons: reasons})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Score == groups[j].Score {
			return groups[i].Members[0].ID < groups[j].Members[0].ID
		}
		return groups[i].Score > groups[j].Score
	})

	logging.Debug("merge", "scan: %d records, %d candidate pairs, %d groups",
		len(records), len(candidates), len(groups))
	return groups, nil
}

// embedRecords returns semantic vectors for the records that could be
// embedded. Embedder failures are absorbed: affected pairs simply fall back
// to file-overlap candidacy.
func (c *Coordinator) embedRecords(ctx context.Context, records []*types.Record) map[string][]float64 {
	if c.embedder == nil || !c.embedder.Available() {
		logging.Debug("merge", "embedder unavailable, scanning on file overlap only")
		return nil
	}
	model := c.embedder.Model()

	vectors := make(map[string][]float64, len(records))
	for _, rec := range records {
		if c.Cache != nil {
			if vec, ok, err := c.Cache.Get(rec.PromptFingerprint, model); err == nil && ok {
				vectors[rec.ID] = vec
				continue
			}
		}
		vec, err := c.embedder.Embed(ctx, rec.Summary)
		if err != nil {
			logging.Warn("merge", "embed %s failed: %v", rec.ID, err)
			continue
		}
		vectors[rec.ID] = vec
		if c.Cache != nil {
			if err := c.Cache.Put(rec.PromptFingerprint, model, vec); err != nil {
				logging.Warn("merge", "embedding cache write failed: %v", err)
			}
		}
	}
	return vectors
}

// Merge consolidates one group: unify the member bodies, create the merged
// record with lineage, and archive every source. Groups need at least two
// members. Archive failures do not roll back the merged record; they come
// back joined in the error alongside the created record.
func (c *Coordinator) Merge(ctx context.Context, group Group) (*types.Record, error) {
	if len(group.Members) < 2 {
		return nil, fmt.Errorf("merge needs at least 2 records, got %d: %w", len(group.Members), types.ErrConflict)
	}

	// Consolidating: concatenate member bodies under section headers, then
	// let the summarizer unify them, degrading to the literal concatenation.
	var sections []string
	var fragments []string
	var fingerprints []string
	for _, m := range group.Members {
		body := m.Body
		if strings.TrimSpace(body) == "" {
			body = m.StandardSummary
		}
		sections = append(sections, fmt.Sprintf("## Source: %s (%s)\n\n%s",
			m.ID, m.CreatedAt.Format("2006-01-02"), body))
		fragments = append(fragments, body)
		fingerprints = append(fingerprints, m.PromptFingerprint)
	}
	concatenated := strings.Join(sections, "\n\n")

	body := concatenated
	method := MethodConcat
	if c.summarizer != nil && c.summarizer.Available() {
		sctx, cancel := context.WithTimeout(ctx, c.SummarizeTimeout)
		unified, err := c.summarizer.Summarize(sctx, fragments)
		cancel()
		if err != nil {
			logging.Warn("merge", "summarizer failed, keeping concatenation: %v", err)
		} else if strings.TrimSpace(unified) != "" {
			body = unified
			method = MethodUnified
		}
	}

	// Merged metadata is the union of the sources'.
	tags := unionOrdered(func(m *types.Record) []string { return m.Tags }, group.Members)
	paths := unionOrdered(func(m *types.Record) []string { return m.RelatedPaths }, group.Members)
	authors := unionOrdered(func(m *types.Record) []string { return m.Authors }, group.Members)

	var summaries []string
	for _, m := range group.Members {
		if s := strings.TrimSpace(m.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}
	summary := logging.Truncate(strings.Join(summaries, "; "), 300)

	embedModel := ""
	if c.embedder != nil {
		embedModel = c.embedder.Model()
	}

	merged, err := c.store.Create(store.CreateRequest{
		Prompt:          strings.Join(fingerprints, "\n"),
		Summary:         summary,
		StandardSummary: strings.Join(summaries, "\n"),
		Body:            body,
		Authors:         authors,
		Tags:            tags,
		RelatedPaths:    paths,
		EmbeddingModel:  embedModel,
		Actor:           "merge",
		MergeLineage: &types.MergeLineage{
			SourceIDs: group.IDs(),
			Method:    method,
			Timestamp: time.Now().UTC(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create merged record: %w", err)
	}

	// Archiving: sources are never deleted outright; archived records keep
	// the audit trail and leave rollback possible later.
	var archiveErrs []error
	for _, m := range group.Members {
		if err := c.store.Archive(m.ID, "merge", "superseded by merge "+merged.ID); err != nil {
			archiveErrs = append(archiveErrs, fmt.Errorf("archive %s: %w", m.ID, err))
		}
	}

	c.logEvent("merge_completed", audit.ImpactHigh, map[string]any{
		"merged_id": merged.ID,
		"sources":   group.IDs(),
		"method":    method,
	})

	if len(archiveErrs) > 0 {
		return merged, errors.Join(archiveErrs...)
	}
	return merged, nil
}

// Run executes a full merge cycle. Per-group failures land in the report's
// Issues and the cycle continues; completed merges stay written. The index
// is rebuilt from the store's updated active set at the end.
func (c *Coordinator) Run(ctx context.Context, threshold float64) (*Report, error) {
	report := &Report{Stage: StageScanning}

	groups, err := c.DetectGroups(ctx, threshold)
	if err != nil {
		return report, err
	}
	report.Stage = StageGrouping
	report.GroupsDetected = len(groups)

	report.Stage = StageConsolidating
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			report.Issues = append(report.Issues, "cycle interrupted: "+err.Error())
			break
		}
		report.Stage = StageConsolidating
		merged, err := c.Merge(ctx, group)
		if err != nil && merged == nil {
			report.Issues = append(report.Issues, fmt.Sprintf("group %v: %v", group.IDs(), err))
			continue
		}
		if err != nil {
			// Merged record exists but some sources failed to archive.
			report.Stage = StageArchiving
			report.Issues = append(report.Issues, fmt.Sprintf("merge %s: %v", merged.ID, err))
		}
		report.GroupsProcessed++
		report.RecordsConsolidated += len(group.Members)
		report.MergedIDs = append(report.MergedIDs, merged.ID)
		logging.Info("merge", "consolidated %d records into %s", len(group.Members), merged.ID)
	}

	report.Stage = StageReindexing
	c.idx.Rebuild(c.store.ListActive())
	report.Stage = StageDone

	c.logEvent("merge_cycle", audit.ImpactMedium, map[string]any{
		"groups_detected":      report.GroupsDetected,
		"groups_processed":     report.GroupsProcessed,
		"records_consolidated": report.RecordsConsolidated,
		"issues":               len(report.Issues),
	})
	return report, nil
}

// Preview returns the groups a Run at this threshold would consolidate,
// without mutating anything.
func (c *Coordinator) Preview(ctx context.Context, threshold float64) ([]Group, error) {
	return c.DetectGroups(ctx, threshold)
}

func (c *Coordinator) logEvent(action string, impact audit.Impact, details map[string]any) {
	if c.Trail == nil {
		return
	}
	if err := c.Trail.Record(action, "merge", impact, details); err != nil {
		logging.Warn("merge", "audit log failed: %v", err)
	}
}

// unionOrdered unions a field across members, preserving first-seen order.
func unionOrdered(field func(*types.Record) []string, members []*types.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range members {
		for _, x := range field(m) {
			if x == "" || seen[x] {
				continue
			}
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
