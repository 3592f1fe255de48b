package translate

import (
	"strings"
	"unicode"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

const maxKeywords = 8

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "it": true, "its": true,
	"this": true, "that": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "not": true, "no": true, "nor": true,
	"how": true, "what": true, "when": true, "where": true, "who": true, "which": true,
	"why": true, "all": true, "each": true, "every": true, "both": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true, "than": true,
	"too": true, "very": true, "just": true, "about": true, "into": true, "over": true,
	"after": true, "before": true, "between": true, "under": true, "above": true,
	"our": true, "your": true, "we": true, "you": true, "they": true, "them": true,
	"their": true, "new": true, "use": true, "using": true, "used": true,
	"latest": true, "recent": true, "current": true, "best": true, "there": true,
	"any": true, "patient": true, "patients": true, "people": true, "effect": true,
	"effects": true, "tell": true, "know": true, "need": true, "get": true,
	// Spanish
	"el": true, "la": true, "los": true, "las": true, "de": true, "del": true,
	"en": true, "para": true, "que": true, "por": true, "con": true, "una": true,
	"uno": true, "es": true, "como": true, "se": true,
}

// Keywords extracts search terms from free text: lower-cased, stop words
// and very short tokens removed, de-duplicated in order of appearance.
func Keywords(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(word)) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Fallback builds the keyword query for source, or "" when the text has
// no usable keywords.
func Fallback(text string, source model.SourceKind) string {
	kw := Keywords(text)
	if len(kw) == 0 {
		return ""
	}
	if source == model.SourceMedlinePlus {
		q := strings.Join(kw, " ")
		for len(q) > MaxMedlinePlusLength && len(kw) > 1 {
			kw = kw[:len(kw)-1]
			q = strings.Join(kw, " ")
		}
		return q
	}
	return strings.Join(kw, " AND ")
}
