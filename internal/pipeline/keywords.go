package pipeline

import (
	"regexp"
	"sort"
	"strings"
)

const defaultKeywordCount = 8

var tokenRe = regexp.MustCompile(`[A-Za-z][A-Za-z\-]{2,}`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "for": true, "on": true, "in": true,
	"of": true, "to": true, "is": true, "am": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "with": true, "by": true, "as": true,
	"at": true, "that": true, "this": true, "it": true, "its": true, "from": true,
	"we": true, "you": true, "i": true, "they": true, "he": true, "she": true,
	"them": true, "our": true, "your": true, "their": true, "not": true,
	"no": true, "yes": true, "do": true, "did": true, "done": true, "can": true,
	"could": true, "should": true,
}

// ExtractKeywords returns the topK most frequent non-stopword terms in text,
// most frequent first. Ties are broken alphabetically so the result is stable.
func ExtractKeywords(text string, topK int) []string {
	if text == "" {
		return nil
	}

	freq := map[string]int{}
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if stopwords[tok] {
			continue
		}
		freq[tok]++
	}
	if len(freq) == 0 {
		return nil
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > topK {
		terms = terms[:topK]
	}
	return terms
}
