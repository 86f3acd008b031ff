package room

import (
	"sort"
	"strings"
	"unicode"
)

// minKeywordLen drops short noise tokens ("a", "is", "0x").
const minKeywordLen = 3

// stopWords are excluded from keyword extraction regardless of frequency.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "what": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "your": {}, "how": {},
	"they": {}, "will": {}, "would": {}, "there": {}, "their": {},
	"about": {}, "which": {}, "when": {}, "make": {}, "like": {},
	"just": {}, "know": {}, "into": {}, "than": {}, "then": {},
	"them": {}, "some": {}, "could": {}, "want": {}, "been": {},
	"much": {}, "more": {}, "also": {}, "here": {}, "does": {},
	"please": {}, "thanks": {}, "hello": {},
}

// ExtractKeywords derives a frequency-ranked keyword list from message
// texts. Tokens are lower-cased; stop-words and tokens shorter than
// minKeywordLen are dropped; at most topK keywords are returned, sorted
// by descending frequency with lexicographic order breaking ties.
func ExtractKeywords(texts []string, topK int) []string {
	if topK <= 0 {
		return []string{}
	}

	freq := make(map[string]int)
	for _, text := range texts {
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			if len(tok) < minKeywordLen {
				continue
			}
			if _, stop := stopWords[tok]; stop {
				continue
			}
			freq[tok]++
		}
	}

	keywords := make([]string, 0, len(freq))
	for w := range freq {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > topK {
		keywords = keywords[:topK]
	}
	return keywords
}
