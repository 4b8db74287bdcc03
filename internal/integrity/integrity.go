// Package integrity validates record well-formedness and cross-set
// consistency, and attempts bounded auto-repair of what it finds: defaulted
// missing fields, completed or cleared stalled merges, synthesized minimal
// change histories. Unrecoverable issues are counted, never thrown.
package integrity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/logging"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

// IssueKind is a closed set of defect variants; each carries only the
// fields relevant to its kind, and Recover dispatches exhaustively on it.
type IssueKind string

const (
	// KindInvalidMetadata: malformed id or inconsistent timestamps.
	KindInvalidMetadata IssueKind = "invalid_metadata"
	// KindMissingField: a required field (createdAt, authors, summary) is empty.
	KindMissingField IssueKind = "missing_field"
	// KindIncompleteOperation: merge lineage present but half-finished.
	KindIncompleteOperation IssueKind = "incomplete_operation"
	// KindHistoryMismatch: no change history on a persisted record.
	KindHistoryMismatch IssueKind = "file_memory_mismatch"
)

// Severity of a whole check run.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one finding against one record.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	RecordID string    `json:"record_id"`
	Field    string    `json:"field,omitempty"`
	Detail   string    `json:"detail"`
}

// Report is the result of a check run.
type Report struct {
	Issues   []Issue  `json:"issues,omitempty"`
	Severity Severity `json:"severity"`
}

// RecoverResult counts repair attempts.
type RecoverResult struct {
	Total     int `json:"total"`
	Recovered int `json:"recovered"`
}

// idRe matches the versioned record id format, e.g. rec-v1-<uuid>.
var idRe = regexp.MustCompile(`^rec-v\d+-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Auditor runs integrity checks over the full record set (active and
// archived). It never mutates records during Check; only Recover writes.
type Auditor struct {
	store *store.Store
	trail *audit.Trail
}

// NewAuditor creates an auditor. trail may be nil.
func NewAuditor(st *store.Store, trail *audit.Trail) *Auditor {
	return &Auditor{store: st, trail: trail}
}

// Check validates every record and grades the overall severity.
func (a *Auditor) Check() *Report {
	report := &Report{}
	records := append(a.store.ListActive(), a.store.ListArchived()...)
	for _, rec := range records {
		report.Issues = append(report.Issues, checkRecord(rec)...)
	}
	report.Severity = grade(report.Issues)
	return report
}

func checkRecord(rec *types.Record) []Issue {
	var issues []Issue
	add := func(kind IssueKind, field, detail string) {
		issues = append(issues, Issue{Kind: kind, RecordID: rec.ID, Field: field, Detail: detail})
	}

	if !idRe.MatchString(rec.ID) {
		add(KindInvalidMetadata, "id", "id does not match the versioned identifier format")
	}
	if rec.CreatedAt.IsZero() {
		add(KindMissingField, "created", "creation timestamp missing")
	}
	if len(rec.Authors) == 0 {
		add(KindMissingField, "authors", "no authors recorded")
	}
	if strings.TrimSpace(rec.Summary) == "" {
		add(KindMissingField, "summary", "summary empty")
	}
	if !rec.UpdatedAt.IsZero() && !rec.CreatedAt.IsZero() && rec.UpdatedAt.Before(rec.CreatedAt) {
		add(KindInvalidMetadata, "updated", "updated timestamp precedes created")
	}

	if ml := rec.MergeLineage; ml != nil {
		switch {
		case len(ml.SourceIDs) < 2:
			add(KindIncompleteOperation, "mergeLineage", fmt.Sprintf("lineage has %d source ids, needs 2", len(ml.SourceIDs)))
		case ml.Method == "":
			add(KindIncompleteOperation, "mergeLineage", "lineage missing merge method")
		case ml.Timestamp.IsZero():
			add(KindIncompleteOperation, "mergeLineage", "lineage missing merge timestamp")
		}
	}

	if len(rec.ChangeHistory) == 0 {
		add(KindHistoryMismatch, "changeHistory", "record has no change history")
	} else {
		if rec.ChangeHistory[0].Action != "created" {
			add(KindInvalidMetadata, "changeHistory", "first history entry is not 'created'")
		}
		for i := 1; i < len(rec.ChangeHistory); i++ {
			if rec.ChangeHistory[i].Timestamp.Before(rec.ChangeHistory[i-1].Timestamp) {
				add(KindInvalidMetadata, "changeHistory", "history timestamps decrease")
				break
			}
		}
	}
	return issues
}

func grade(issues []Issue) Severity {
	if len(issues) == 0 {
		return SeverityLow
	}
	hasInvalid, hasIncomplete := false, false
	for _, issue := range issues {
		switch issue.Kind {
		case KindInvalidMetadata:
			hasInvalid = true
		case KindIncompleteOperation:
			hasIncomplete = true
		}
	}
	if hasInvalid || len(issues) > 10 {
		return SeverityCritical
	}
	if hasIncomplete || len(issues) > 5 {
		return SeverityHigh
	}
	return SeverityMedium
}

// Recover attempts one bounded fix per issue. Fixes are logged to the audit
// trail; issues with no safe fix (for example a malformed id) stay counted
// but untouched.
func (a *Auditor) Recover(issues []Issue) *RecoverResult {
	result := &RecoverResult{Total: len(issues)}

	byRecord := map[string][]Issue{}
	for _, issue := range issues {
		byRecord[issue.RecordID] = append(byRecord[issue.RecordID], issue)
	}

	for id, recIssues := range byRecord {
		rec, err := a.store.Get(id)
		if err != nil {
			continue
		}

		fixed := 0
		for _, issue := range recIssues {
			if a.fixIssue(rec, issue) {
				fixed++
			}
		}
		if fixed == 0 {
			continue
		}
		if err := a.store.Put(rec); err != nil {
			logging.Warn("integrity", "persisting repairs for %s failed: %v", id, err)
			continue
		}
		result.Recovered += fixed
	}
	return result
}

// fixIssue mutates rec in place for the repairable kinds and reports whether
// a fix was applied.
func (a *Auditor) fixIssue(rec *types.Record, issue Issue) bool {
	applied := false
	switch issue.Kind {
	case KindMissingField:
		switch issue.Field {
		case "created":
			rec.CreatedAt = time.Now().UTC()
			applied = true
		case "authors":
			rec.Authors = []string{"unknown"}
			applied = true
		case "summary":
			line := firstLine(rec.Body)
			if line == "" {
				line = "(recovered record)"
			}
			rec.Summary = logging.Truncate(line, 200)
			applied = true
		}
	case KindIncompleteOperation:
		ml := rec.MergeLineage
		if ml == nil {
			return false
		}
		if len(ml.SourceIDs) < 2 {
			// Stalled merge with unusable lineage: clear it and note the abort.
			rec.MergeLineage = nil
			rec.ChangeHistory = append(rec.ChangeHistory, types.ChangeEntry{
				Timestamp: time.Now().UTC(), Action: "merge_recovered",
				Actor: "integrity", Reason: "cleared incomplete merge lineage",
			})
		} else {
			if ml.Method == "" {
				ml.Method = "unknown"
			}
			if ml.Timestamp.IsZero() {
				ml.Timestamp = time.Now().UTC()
			}
		}
		applied = true
	case KindHistoryMismatch:
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		rec.ChangeHistory = []types.ChangeEntry{{
			Timestamp: created, Action: "created", Actor: "integrity",
			Reason: "history synthesized during recovery",
		}}
		applied = true
	case KindInvalidMetadata:
		if issue.Field == "updated" {
			rec.UpdatedAt = rec.CreatedAt
			applied = true
		}
		// Malformed ids and broken histories have no safe automatic fix.
	}

	if applied {
		a.logFix(rec.ID, issue)
	}
	return applied
}

func (a *Auditor) logFix(id string, issue Issue) {
	if a.trail == nil {
		return
	}
	err := a.trail.Record("integrity_repair", "integrity", audit.ImpactMedium, map[string]any{
		"id":    id,
		"kind":  string(issue.Kind),
		"field": issue.Field,
	})
	if err != nil {
		logging.Warn("integrity", "audit log failed: %v", err)
	}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
