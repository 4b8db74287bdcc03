// Package extract suggests tags and keywords for new records from the
// originating prompt text, using prose NLP entity extraction with a token
// frequency fallback.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tsawler/prose/v3"

	"github.com/vthunder/scribe/internal/types"
)

// identRe matches code-ish identifiers worth keeping as tags even when the
// NER model doesn't label them (snake_case, kebab-case, dotted names).
var identRe = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:[-_.][a-z0-9]+)+\b`)

// stopwords for the frequency fallback.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"was": true, "are": true, "were": true, "be": true, "this": true,
	"that": true, "it": true, "as": true, "at": true, "by": true, "from": true,
	"we": true, "i": true, "you": true, "not": true, "now": true, "new": true,
	"added": true, "fixed": true, "updated": true, "implemented": true,
}

// SuggestTags derives up to max tags from text: prose entities first, then
// code-ish identifiers, then frequent content words. Tags are lower-cased
// and deduplicated; max is clamped to the record tag cap.
func SuggestTags(text string, max int) []string {
	if max <= 0 || max > types.MaxTags {
		max = types.MaxTags
	}

	var tags []string
	seen := map[string]bool{}
	add := func(tag string) {
		tag = normalize(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	if doc, err := prose.NewDocument(text); err == nil {
		for _, ent := range doc.Entities() {
			add(ent.Text)
			if len(tags) >= max {
				return tags
			}
		}
	}

	for _, ident := range identRe.FindAllString(strings.ToLower(text), -1) {
		add(ident)
		if len(tags) >= max {
			return tags
		}
	}

	for _, word := range Keywords(text, max-len(tags)) {
		add(word)
	}
	if len(tags) > max {
		tags = tags[:max]
	}
	return tags
}

// Keywords returns up to max frequent content words from text, most frequent
// first, ties alphabetical.
func Keywords(text string, max int) []string {
	if max <= 0 {
		return nil
	}
	counts := map[string]int{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"()[]{}`")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		counts[word]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > max {
		words = words[:max]
	}
	return words
}

func normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.Trim(tag, ".,!?;:'\"()[]{}`")
	if len(tag) < 2 || len(tag) > 40 {
		return ""
	}
	return tag
}
