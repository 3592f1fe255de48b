// Package render formats pipeline responses for the terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/classify"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pipeline"
	"github.com/Nellodipolito/pubmed-search-api/internal/signal"
)

const wrapWidth = 88

// Search renders a search response: summary, citations, articles,
// health topics and any failed portion.
func Search(resp pipeline.SearchResponse, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(resp.Request.Text))
	b.WriteString("\n")
	if q := resp.PubMedQuery; q != nil {
		label := "PubMed: " + q.Query
		if q.Fallback {
			label += " (keywords)"
		}
		b.WriteString(queryStyle.Render(label) + "\n")
	}
	if q := resp.ConsumerQuery; q != nil {
		b.WriteString(queryStyle.Render("MedlinePlus: "+q.Query) + "\n")
	}
	if resp.SpellingCorrection != "" {
		b.WriteString(itemMetaStyle.Render("Did you mean: "+resp.SpellingCorrection) + "\n")
	}

	writeErrors(&b, resp.Errors())

	if s := resp.Synthesis; s != nil {
		b.WriteString(sectionStyle.Render("Summary") + "\n")
		b.WriteString(bodyStyle.Width(wrapWidth).Render(s.Text) + "\n")
		if len(s.Citations) > 0 {
			b.WriteString(sectionStyle.Render("References") + "\n")
			for _, c := range s.Citations {
				fmt.Fprintf(&b, "[%d] %s\n", c.Number, citationLine(c))
			}
		}
	}

	rs := resp.Results
	if len(rs.Articles) > 0 {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Articles (%d of %d)", len(rs.Articles), rs.Total)) + "\n")
		for i, a := range rs.Articles {
			writeArticle(&b, i+1, a, now)
		}
	}
	if len(rs.Topics) > 0 {
		b.WriteString(sectionStyle.Render("Health topics") + "\n")
		for _, t := range rs.Topics {
			b.WriteString(" " + itemTitleStyle.Render(t.Title) + "\n")
			if len(t.Snippets) > 0 {
				b.WriteString("   " + bodyStyle.Render(t.Snippets[0]) + "\n")
			}
			b.WriteString("   " + linkStyle.Render(t.URL) + "\n")
		}
		if rs.Attribution != "" {
			b.WriteString(itemMetaStyle.Render(rs.Attribution) + "\n")
		}
	}
	if rs.Empty() && resp.Synthesis == nil {
		b.WriteString(bodyStyle.Render("No results.") + "\n")
	}
	return b.String()
}

func writeArticle(b *strings.Builder, n int, a model.Article, now time.Time) {
	fmt.Fprintf(b, "%2d. %s\n", n, itemTitleStyle.Render(a.Title))
	meta := []string{}
	if len(a.Authors) > 0 {
		authors := a.Authors[0]
		if len(a.Authors) > 1 {
			authors += " et al."
		}
		meta = append(meta, authors)
	}
	if a.Journal != "" {
		meta = append(meta, a.Journal)
	}
	if a.PublicationDate != "" {
		meta = append(meta, a.PublicationDate)
	}
	if len(meta) > 0 {
		b.WriteString("    " + itemSourceStyle.Render(strings.Join(meta, " · ")) + "\n")
	}
	score := signal.Score(signal.FromArticle(a, now))
	fmt.Fprintf(b, "    %s\n", itemMetaStyle.Render(fmt.Sprintf("%s · evidence %.1f · PMID %s", signal.Level(a.PublicationTypes), score, a.PMID)))
	b.WriteString("    " + linkStyle.Render(a.URLs().PubMed) + "\n")
}

func citationLine(c model.Citation) string {
	parts := []string{c.Title}
	if c.Journal != "" {
		parts = append(parts, c.Journal)
	}
	if c.Year != "" {
		parts = append(parts, c.Year)
	}
	return strings.Join(parts, ". ") + " " + linkStyle.Render(c.URL)
}

func writeErrors(b *strings.Builder, errs []*model.Error) {
	for _, e := range errs {
		b.WriteString(warnStyle.Render("! "+e.Error()) + "\n")
	}
}

// Note renders a note analysis.
func Note(resp pipeline.NoteResponse) string {
	var b strings.Builder
	n := resp.Note
	b.WriteString(headerStyle.Render("Clinical note analysis") + "\n")
	if n.Patient.Age != "" || n.Patient.Sex != "" {
		b.WriteString(itemMetaStyle.Render(strings.TrimSpace("Patient: "+n.Patient.Age+" "+n.Patient.Sex)) + "\n")
	}
	if bp := n.Vitals.BloodPressure; bp != "" {
		fmt.Fprintf(&b, "%s\n", itemMetaStyle.Render(fmt.Sprintf("BP %s (%s)", bp, n.Vitals.BPCategory())))
	}
	if len(resp.Concerns) > 0 {
		names := make([]string, len(resp.Concerns))
		for i, c := range resp.Concerns {
			names[i] = string(c)
		}
		b.WriteString(itemSourceStyle.Render("Concerns: "+strings.Join(names, ", ")) + "\n")
		for _, c := range resp.Concerns {
			if flags := classify.RedFlags(c, n.Subjective); len(flags) > 0 {
				b.WriteString(urgentStyle.Render(fmt.Sprintf("Red flags (%s): %s", c, strings.Join(flags, ", "))) + "\n")
			}
		}
	}

	b.WriteString(sectionStyle.Render("Research questions") + "\n")
	for i, q := range resp.Questions {
		found := len(q.Search.Results.Articles)
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, q.Question.Text,
			itemMetaStyle.Render(fmt.Sprintf("[%s, %d articles]", q.Question.Priority, found)))
		if q.Error != nil {
			b.WriteString("   " + warnStyle.Render(q.Error.Error()) + "\n")
		}
		for _, e := range q.Search.Errors() {
			b.WriteString("   " + warnStyle.Render(e.Error()) + "\n")
		}
	}

	sections := []struct {
		title string
		recs  []model.Recommendation
	}{
		{"Urgent actions", resp.Recommendations.UrgentActions},
		{"Risk assessment", resp.Recommendations.RiskAssessment},
		{"Diagnostics", resp.Recommendations.Diagnostics},
		{"Medications", resp.Recommendations.Medications},
		{"Monitoring", resp.Recommendations.Monitoring},
		{"Patient education", resp.Recommendations.PatientEducation},
		{"Follow-up", resp.Recommendations.FollowUp},
	}
	for _, s := range sections {
		if len(s.recs) == 0 {
			continue
		}
		b.WriteString(sectionStyle.Render(s.title) + "\n")
		for _, r := range s.recs {
			action := r.Action
			if s.title == "Urgent actions" {
				action = urgentStyle.Render(action)
			}
			fmt.Fprintf(&b, " - %s\n", action)
			if r.Rationale != "" {
				b.WriteString("   " + bodyStyle.Render(r.Rationale) + "\n")
			}
			b.WriteString("   " + itemMetaStyle.Render(support(r)) + "\n")
		}
	}
	if resp.RecommendationError != nil {
		b.WriteString(warnStyle.Render("! "+resp.RecommendationError.Error()) + "\n")
	}

	if len(resp.Evidence) > 0 {
		b.WriteString(sectionStyle.Render("Evidence") + "\n")
		for _, e := range resp.Evidence {
			fmt.Fprintf(&b, "[%d] %s %s\n", e.Number, e.Article.Title, linkStyle.Render(e.Article.URLs().PubMed))
		}
	}
	return b.String()
}

func support(r model.Recommendation) string {
	var parts []string
	if r.Guideline != "" {
		parts = append(parts, r.Guideline)
	}
	if r.EvidenceLevel != "" {
		parts = append(parts, r.EvidenceLevel)
	}
	for _, n := range r.Citations {
		parts = append(parts, fmt.Sprintf("[%d]", n))
	}
	return strings.Join(parts, " · ")
}
