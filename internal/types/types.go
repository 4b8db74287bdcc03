// Package types holds the shared data model for implementation-history
// records: the record itself, its lifecycle states, merge lineage, cached
// quality scores, and the change history attached to every record.
package types

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a record. Deleted records leave the store
// entirely, so only Active and Archived are ever observed on a Record.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// IDVersion is the current record id format version. Ids look like
// "rec-v1-<uuid>" and are assigned once at creation, never reused.
const IDVersion = 1

// NewID generates a fresh versioned record id.
func NewID() string {
	return fmt.Sprintf("rec-v%d-%s", IDVersion, uuid.NewString())
}

// Fingerprint hashes the originating prompt for exact-duplicate detection.
// Format: "sha256:<hex>".
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("sha256:%x", sum)
}

// MergeLineage points a consolidated record back at its sources. It is set
// iff the record was produced by a merge, and then SourceIDs has >= 2 entries.
type MergeLineage struct {
	SourceIDs []string  `yaml:"sourceIds" json:"source_ids"`
	Method    string    `yaml:"method" json:"method"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// QualityMarks caches the most recent quality scores for a record.
type QualityMarks struct {
	Freshness      float64   `yaml:"freshness" json:"freshness"`
	Completeness   float64   `yaml:"completeness" json:"completeness"`
	ReferenceCount float64   `yaml:"referenceCount" json:"reference_count"`
	Total          float64   `yaml:"total" json:"total"`
	ScoredAt       time.Time `yaml:"scoredAt" json:"scored_at"`
}

// ChangeEntry is one step in a record's append-only change history.
// Entries are ordered by non-decreasing timestamp; the first is always
// action "created".
type ChangeEntry struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Action    string    `yaml:"action" json:"action"`
	Actor     string    `yaml:"actor" json:"actor"`
	Reason    string    `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// MaxTags caps the tag set on record creation.
const MaxTags = 10

// Record is one persisted implementation-history document. The metadata
// fields round-trip through the file header; Body is the free text after it.
type Record struct {
	ID                string        `yaml:"id"`
	CreatedAt         time.Time     `yaml:"created"`
	UpdatedAt         time.Time     `yaml:"updated"`
	Authors           []string      `yaml:"authors"`
	Tags              []string      `yaml:"tags"`
	PromptFingerprint string        `yaml:"promptFingerprint"`
	RelatedPaths      []string      `yaml:"relatedPaths"`
	UltraSummary      string        `yaml:"ultraSummary"`
	Summary           string        `yaml:"summary"`
	StandardSummary   string        `yaml:"standardSummary"`
	EmbeddingModel    string        `yaml:"embeddingModel"`
	Version           int           `yaml:"version"`
	MergeLineage      *MergeLineage `yaml:"mergeLineage,omitempty"`
	QualityMarks      *QualityMarks `yaml:"qualityMarks,omitempty"`
	ChangeHistory     []ChangeEntry `yaml:"changeHistory"`

	// Not serialized in the header.
	Body   string `yaml:"-"`
	Status Status `yaml:"-"`
}

// AgeDays returns the record's age in whole days, measured from the last
// update (falling back to creation time).
func (r *Record) AgeDays(now time.Time) float64 {
	ts := r.UpdatedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}
	return now.Sub(ts).Hours() / 24
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out clones so callers can't mutate
// cached state behind the store's back.
func (r *Record) Clone() *Record {
	c := *r
	c.Authors = append([]string(nil), r.Authors...)
	c.Tags = append([]string(nil), r.Tags...)
	c.RelatedPaths = append([]string(nil), r.RelatedPaths...)
	c.ChangeHistory = append([]ChangeEntry(nil), r.ChangeHistory...)
	if r.MergeLineage != nil {
		ml := *r.MergeLineage
		ml.SourceIDs = append([]string(nil), r.MergeLineage.SourceIDs...)
		c.MergeLineage = &ml
	}
	if r.QualityMarks != nil {
		qm := *r.QualityMarks
		c.QualityMarks = &qm
	}
	return &c
}
