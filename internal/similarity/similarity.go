// Package similarity scores record pairs for near-duplicate detection and
// merge candidacy. Everything here is a pure function over two records plus
// an optional externally supplied semantic score.
package similarity

import (
	"strings"

	"github.com/vthunder/scribe/internal/types"
)

// Composite score weights.
const (
	fileWeight    = 0.6
	tagWeight     = 0.2
	keywordWeight = 0.2
)

// DuplicateThreshold is the composite score at which a new record triggers a
// proactive near-duplicate warning at creation time.
const DuplicateThreshold = 0.9

// FileOverlapThreshold makes a pair a merge candidate on path overlap alone,
// independent of semantic similarity.
const FileOverlapThreshold = 0.5

// Score composes file overlap, tag Jaccard, and summary keyword Jaccard into
// one value in [0,1]: 0.6*fileOverlap + 0.2*tagJaccard + 0.2*keywordJaccard.
func Score(a, b *types.Record) float64 {
	return fileWeight*FileOverlap(a, b) +
		tagWeight*TagJaccard(a, b) +
		keywordWeight*KeywordJaccard(a.Summary, b.Summary)
}

// FileOverlap is |A∩B| / max(|A|,|B|) over the related-path sets, 0 when
// either set is empty.
func FileOverlap(a, b *types.Record) float64 {
	as := toSet(a.RelatedPaths)
	bs := toSet(b.RelatedPaths)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for p := range as {
		if bs[p] {
			inter++
		}
	}
	denom := len(as)
	if len(bs) > denom {
		denom = len(bs)
	}
	return float64(inter) / float64(denom)
}

// TagJaccard is intersection-over-union of the two tag sets, 0 when either
// set is empty (IoU of empty sets is undefined, treated as 0).
func TagJaccard(a, b *types.Record) float64 {
	return jaccard(toSet(a.Tags), toSet(b.Tags))
}

// KeywordJaccard is intersection-over-union of the lower-cased
// whitespace-tokenized words of the two summaries, 0 when either is empty.
func KeywordJaccard(aSummary, bSummary string) float64 {
	return jaccard(tokenize(aSummary), tokenize(bSummary))
}

func jaccard(as, bs map[string]bool) float64 {
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for x := range as {
		if bs[x] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, x := range items {
		if x != "" {
			set[x] = true
		}
	}
	return set
}

func tokenize(text string) map[string]bool {
	set := map[string]bool{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		set[word] = true
	}
	return set
}

// IsMergeCandidate decides whether a pair should be proposed for
// consolidation: semantic similarity at or above the merge threshold, or
// related-path overlap at or above 0.5. The composite Score is deliberately
// not consulted here; it drives creation-time duplicate warnings instead.
// semanticScore < 0 means no semantic score is available.
func IsMergeCandidate(a, b *types.Record, semanticScore, mergeThreshold float64) (bool, string) {
	if semanticScore >= 0 && semanticScore >= mergeThreshold {
		return true, "semantic"
	}
	if FileOverlap(a, b) >= FileOverlapThreshold {
		return true, "file_overlap"
	}
	return false, ""
}

// IsNearDuplicate reports whether a pair crosses the proactive warning
// threshold on the composite score.
func IsNearDuplicate(a, b *types.Record) bool {
	return Score(a, b) >= DuplicateThreshold
}
