// Package translate turns natural-language questions into source-specific
// boolean queries.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

const pubmedSystem = `You are a PubMed search expert. Create effective, broad search strings that find relevant results without being too restrictive. Focus on key concepts and use OR between synonyms.`

const pubmedPrompt = `Convert the following question into a PubMed search query.
Guidelines:
1. Use OR between synonyms and AND between concepts
2. Use few MeSH terms; they can be too restrictive
3. Do not add date restrictions
4. Only use standard field tags such as [tiab], [mh] or [pt]

Example:
Input: Latest treatments for diabetes type 2
Output: (diabetes type 2 OR type 2 diabetes OR T2DM) AND (treatment OR therapy OR management)

Input: %s
Return only the search string.`

const medlineSystem = `You write short consumer-health search phrases for the MedlinePlus health topics search.`

const medlinePrompt = `Rewrite the question as a short MedlinePlus search phrase in %s.
Use plain words, no field tags, no brackets, at most 256 characters.

Question: %s
Return only the search phrase.`

const hintPrompt = `

Your previous answer was rejected: %s
Previous answer: %s
Return a corrected query.`

// Translator turns questions into source queries. It never fails when the
// question has at least one usable keyword.
type Translator struct {
	gen ai.Generator
	log *slog.Logger
}

// New creates a translator. A nil generator always uses keyword queries.
func New(gen ai.Generator, log *slog.Logger) *Translator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Translator{gen: gen, log: log}
}

// Translate returns the query for req.Text against source. An invalid
// generation is retried once with the validation error as a hint, then
// replaced by a keyword conjunction.
func (t *Translator) Translate(ctx context.Context, req model.SearchRequest, source model.SourceKind) (model.TranslatedQuery, error) {
	tq := model.TranslatedQuery{Source: source, Request: req}

	if t.gen != nil {
		var prev, hint string
		for attempt := 1; attempt <= 2; attempt++ {
			tq.Attempts = attempt
			p := prompt(req, source)
			if hint != "" {
				p.User += fmt.Sprintf(hintPrompt, hint, prev)
			}
			out, err := t.gen.Generate(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return tq, &model.Error{Kind: model.TranslationFailure, Source: source, Step: "translate", Err: ctx.Err()}
				}
				t.log.Warn("query generation failed, using keywords", "source", source, "error", err)
				break
			}
			q := Clean(out)
			if err := Validate(source, q); err != nil {
				t.log.Debug("generated query rejected", "source", source, "attempt", attempt, "query", q, "error", err)
				prev, hint = q, err.Error()
				continue
			}
			tq.Query = q
			return tq, nil
		}
	}

	q := Fallback(req.Text, source)
	if q == "" {
		return tq, &model.Error{
			Kind:    model.TranslationFailure,
			Source:  source,
			Step:    "translate",
			Message: "question has no searchable keywords",
		}
	}
	tq.Query = q
	tq.Fallback = true
	t.log.Info("using keyword query", "source", source, "query", q)
	return tq, nil
}

func prompt(req model.SearchRequest, source model.SourceKind) ai.Prompt {
	if source == model.SourceMedlinePlus {
		lang := "English"
		if req.Language == "es" {
			lang = "Spanish"
		}
		return ai.Prompt{
			System:    medlineSystem,
			User:      fmt.Sprintf(medlinePrompt, lang, req.Text),
			MaxTokens: 100,
		}
	}
	return ai.Prompt{
		System:    pubmedSystem,
		User:      fmt.Sprintf(pubmedPrompt, req.Text),
		MaxTokens: 300,
	}
}

// Clean strips the wrapping a model puts around a bare query: code
// fences, an "Output:" label, surrounding quotes and line breaks.
func Clean(out string) string {
	q := ai.StripFences(out)
	q = strings.Join(strings.Fields(q), " ")
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"`", "`"}, {"“", "”"}} {
		if len(q) >= 2 && strings.HasPrefix(q, pair[0]) && strings.HasSuffix(q, pair[1]) {
			inner := q[len(pair[0]) : len(q)-len(pair[1])]
			if !strings.Contains(inner, pair[0]) && !strings.Contains(inner, pair[1]) {
				q = inner
			}
		}
	}
	return strings.TrimSpace(q)
}
