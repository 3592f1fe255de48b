// Package synthesis writes the cited narrative summary of a result set.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/aggregate"
	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/medline"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// NoResultsText is the narrative of an empty result set.
const NoResultsText = "No articles found matching your query."

// abstractRunes caps each abstract in the prompt.
const abstractRunes = 300

const systemPrompt = "You are a scientific summarizer. Provide clear, accurate summaries with proper citation numbers."

const userPrompt = `Summarize the following research related to: %q
Include citation numbers [1], [2], etc. when referencing specific findings.

Items:
%s
Guidelines:
1. Use citation numbers in square brackets, only numbers 1 to %d
2. Focus on key findings and methodology
3. Maintain academic writing style
4. Synthesize information across items

Summary:`

const correctionPrompt = `

Your previous summary cited %s, which do not exist. Only cite numbers 1 to %d.
Previous summary:
%s`

// NoTypeMatchText is the narrative when a type filter removed everything.
func NoTypeMatchText(types []string) string {
	return fmt.Sprintf("No articles of type %s were found. Try broadening your search criteria or removing some filters.", strings.Join(types, ", "))
}

type Synthesizer struct {
	gen ai.Generator
	log *slog.Logger
}

func New(gen ai.Generator, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{gen: gen, log: log}
}

// Synthesize summarizes rs for question. Every marker in the result
// resolves to one of its Citations.
func (s *Synthesizer) Synthesize(ctx context.Context, rs aggregate.ResultSet, question string) (model.SynthesisResult, error) {
	if rs.Empty() {
		return model.SynthesisResult{
			Text:      NoResultsText,
			Segments:  []model.Segment{{Text: NoResultsText}},
			Citations: []model.Citation{},
		}, nil
	}
	if s.gen == nil {
		return model.SynthesisResult{}, &model.Error{Kind: model.SynthesisFailure, Step: "synthesis", Message: "no language model configured"}
	}

	reg := NewRegistry(rs)
	base := ai.Prompt{
		System:      systemPrompt,
		User:        fmt.Sprintf(userPrompt, question, serialize(rs), reg.Len()),
		Temperature: 0,
		MaxTokens:   800,
	}

	var (
		text    string
		retried bool
	)
	p := base
	for attempt := 1; attempt <= 2; attempt++ {
		out, err := s.gen.Generate(ctx, p)
		if err != nil {
			return model.SynthesisResult{}, &model.Error{Kind: model.SynthesisFailure, Step: "synthesis", Err: err}
		}
		text = strings.TrimSpace(ai.StripFences(out))
		if text == "" {
			if attempt == 2 {
				break
			}
			retried = true
			s.log.Warn("empty synthesis, retrying")
			continue
		}
		bad := outOfRange(findMarkers(text), reg.Len())
		if len(bad) == 0 || attempt == 2 {
			break
		}
		retried = true
		s.log.Warn("synthesis cited unknown items, retrying", "markers", bad)
		p = base
		p.User += fmt.Sprintf(correctionPrompt, formatMarker(bad), reg.Len(), text)
	}
	if text == "" {
		return model.SynthesisResult{}, &model.Error{Kind: model.SynthesisFailure, Step: "synthesis", Message: "language model returned an empty summary"}
	}

	res := Bind(text, reg)
	res.Retried = retried
	if res.Stripped > 0 {
		s.log.Warn("stripped unresolvable citations", "count", res.Stripped)
	}
	return res, nil
}

// Bind renumbers the markers of text through reg in first-mention order.
// Numbers that name no item are removed.
func Bind(text string, reg *Registry) model.SynthesisResult {
	var (
		sb       strings.Builder
		segments []model.Segment
		seg      strings.Builder
		stripped int
		last     int
	)
	for _, m := range findMarkers(text) {
		chunk := text[last:m.start]
		last = m.end

		var nums []int
		seen := map[int]bool{}
		for _, p := range m.numbers {
			n, ok := reg.Resolve(p)
			if !ok {
				stripped++
				continue
			}
			if !seen[n] {
				seen[n] = true
				nums = append(nums, n)
			}
		}
		if len(nums) == 0 {
			// drop the marker and the space before it
			chunk = strings.TrimRight(chunk, " ")
			sb.WriteString(chunk)
			seg.WriteString(chunk)
			continue
		}
		sb.WriteString(chunk)
		sb.WriteString(formatMarker(nums))
		seg.WriteString(chunk)
		segments = append(segments, model.Segment{Text: strings.TrimSpace(seg.String()), Citations: nums})
		seg.Reset()
	}
	sb.WriteString(text[last:])
	seg.WriteString(text[last:])
	if tail := strings.TrimSpace(seg.String()); tail != "" {
		segments = append(segments, model.Segment{Text: tail})
	}
	return model.SynthesisResult{
		Text:      strings.TrimSpace(sb.String()),
		Segments:  segments,
		Citations: reg.Cited(),
		Uncited:   reg.Uncited(),
		Stripped:  stripped,
	}
}

func serialize(rs aggregate.ResultSet) string {
	var sb strings.Builder
	n := 0
	for _, a := range rs.Articles {
		n++
		fmt.Fprintf(&sb, "[%d] %s\n", n, a.Title)
		if a.Journal != "" || a.PublicationDate != "" {
			fmt.Fprintf(&sb, "Journal: %s (%s)\n", a.Journal, a.PublicationDate)
		}
		if len(a.PublicationTypes) > 0 {
			fmt.Fprintf(&sb, "Type: %s\n", strings.Join(a.PublicationTypes, ", "))
		}
		if a.Abstract != "" {
			fmt.Fprintf(&sb, "Abstract: %s\n", Truncate(a.Abstract, abstractRunes))
		}
		sb.WriteString("\n")
	}
	for _, t := range rs.Topics {
		n++
		fmt.Fprintf(&sb, "[%d] %s (MedlinePlus health topic)\n", n, t.Title)
		if t.Summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", Truncate(medline.StripTags(t.Summary), abstractRunes))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
