// Package search ranks meeting records against a query using trigram-set
// similarity, the same substring-tolerant scoring the original system got
// from its database's trigram index.
package search

import (
	"regexp"
	"sort"
	"strings"

	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
)

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// Rank returns the records matching query, most similar first, ties broken by
// created_at descending. An empty or whitespace-only query matches nothing.
func Rank(records []*meeting.Record, query string) []*meeting.Record {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	qgrams := trigrams(q)
	if len(qgrams) == 0 {
		return nil
	}

	type scored struct {
		rec   *meeting.Record
		score float64
	}

	var matches []scored
	for _, r := range records {
		score := similarity(qgrams, trigrams(r.Filename))
		if r.Transcript != nil {
			if s := similarity(qgrams, trigrams(*r.Transcript)); s > score {
				score = s
			}
		}
		if r.Summary != nil {
			if s := similarity(qgrams, trigrams(*r.Summary)); s > score {
				score = s
			}
		}
		if score > 0 {
			matches = append(matches, scored{rec: r, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.CreatedAt.After(matches[j].rec.CreatedAt)
	})

	out := make([]*meeting.Record, len(matches))
	for i, m := range matches {
		out[i] = m.rec
	}
	return out
}

// trigrams extracts the set of letter trigrams from s. Each word is padded
// with two leading and one trailing space so prefixes weigh in, mirroring
// pg_trgm's behavior.
func trigrams(s string) map[string]bool {
	set := map[string]bool{}
	for _, word := range strings.Fields(nonWord.ReplaceAllString(strings.ToLower(s), " ")) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = true
		}
	}
	return set
}

// similarity is the Jaccard index of two trigram sets.
func similarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var shared int
	for g := range a {
		if b[g] {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
