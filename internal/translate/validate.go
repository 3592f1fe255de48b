package translate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// MaxMedlinePlusLength bounds a consumer-health query.
const MaxMedlinePlusLength = 256

// pubmedTags are the field qualifiers accepted inside [...].
var pubmedTags = map[string]bool{
	"tiab": true, "ti": true, "ab": true, "mh": true, "majr": true, "pt": true,
	"au": true, "1au": true, "lastau": true, "dp": true, "pdat": true, "edat": true,
	"la": true, "sh": true, "tw": true, "all": true, "nm": true, "sb": true,
	"ta": true, "jour": true, "ad": true, "affl": true, "gr": true, "ot": true,
	"filter": true, "mesh": true, "tt": true, "pmid": true, "uid": true,
	"all fields": true, "title": true, "abstract": true, "title/abstract": true,
	"mesh terms": true, "mesh major topic": true, "mesh subheading": true,
	"publication type": true, "author": true, "language": true, "text word": true,
	"journal": true, "publication date": true, "date - publication": true,
	"affiliation": true, "subheading": true, "supplementary concept": true,
}

var errEmpty = errors.New("query is empty")

// Validate checks q against the boolean grammar of source.
func Validate(source model.SourceKind, q string) error {
	if strings.TrimSpace(q) == "" {
		return errEmpty
	}
	switch source {
	case model.SourceMedlinePlus:
		return validateMedlinePlus(q)
	default:
		return validatePubMed(q)
	}
}

func validateMedlinePlus(q string) error {
	if n := utf8.RuneCountInString(q); n > MaxMedlinePlusLength {
		return fmt.Errorf("query is %d characters, limit is %d", n, MaxMedlinePlusLength)
	}
	if strings.ContainsAny(q, "[]") {
		return errors.New("field tags in brackets are not supported")
	}
	if strings.Count(q, `"`)%2 != 0 {
		return errors.New("unbalanced quotes")
	}
	depth := 0
	for _, r := range q {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return errors.New("unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return errors.New("unbalanced parentheses")
	}
	return nil
}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokOp
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

func isOperator(w string) bool {
	return w == "AND" || w == "OR" || w == "NOT"
}

// lex splits a PubMed query into terms, operators and parentheses. Field
// tags are validated as they are read.
func lex(q string) ([]token, error) {
	var (
		tokens []token
		word   strings.Builder
	)
	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if isOperator(w) {
			tokens = append(tokens, token{tokOp, w})
		} else {
			tokens = append(tokens, token{tokTerm, w})
		}
	}

	runes := []rune(q)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, errors.New("unbalanced quotes")
			}
			if end == i+1 {
				return nil, errors.New("empty quoted phrase")
			}
			word.WriteString(string(runes[i : end+1]))
			i = end
		case r == '[':
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '[' {
					return nil, errors.New("nested brackets")
				}
				if runes[j] == ']' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, errors.New("unbalanced brackets")
			}
			if word.Len() == 0 && (len(tokens) == 0 || tokens[len(tokens)-1].kind != tokTerm) {
				return nil, errors.New("field tag without a term")
			}
			tag := strings.ToLower(strings.TrimSpace(string(runes[i+1 : end])))
			if k := strings.IndexByte(tag, ':'); k >= 0 {
				tag = tag[:k]
			}
			if !pubmedTags[tag] {
				return nil, fmt.Errorf("unknown field tag [%s]", string(runes[i+1:end]))
			}
			if word.Len() == 0 {
				// tag separated from its term by a space
				tokens[len(tokens)-1].text += string(runes[i : end+1])
			} else {
				word.WriteString(string(runes[i : end+1]))
			}
			i = end
		case r == ']':
			return nil, errors.New("unbalanced brackets")
		case r == '(' || r == ')':
			flush()
			if r == '(' {
				tokens = append(tokens, token{tokOpen, "("})
			} else {
				tokens = append(tokens, token{tokClose, ")"})
			}
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens, nil
}

func validatePubMed(q string) error {
	tokens, err := lex(q)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errEmpty
	}

	depth := 0
	prev := tokOp // an operator position: the query must start with a term or group
	for i, t := range tokens {
		switch t.kind {
		case tokOpen:
			depth++
		case tokClose:
			depth--
			if depth < 0 {
				return errors.New("unbalanced parentheses")
			}
			if prev == tokOpen {
				return errors.New("empty group")
			}
			if prev == tokOp {
				return fmt.Errorf("dangling operator %s before )", tokens[i-1].text)
			}
		case tokOp:
			if prev == tokOp || prev == tokOpen {
				if i == 0 {
					return fmt.Errorf("query starts with operator %s", t.text)
				}
				return fmt.Errorf("operator %s has no left operand", t.text)
			}
		}
		prev = t.kind
	}
	if depth != 0 {
		return errors.New("unbalanced parentheses")
	}
	if prev == tokOp {
		return fmt.Errorf("query ends with operator %s", tokens[len(tokens)-1].text)
	}
	return nil
}
