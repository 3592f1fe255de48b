package clinical

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/classify"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// DefaultMaxQuestions caps the research questions derived from one note.
const DefaultMaxQuestions = 6

// Priority orders questions; lower runs first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Question is one literature search derived from a note.
type Question struct {
	Text     string   `json:"text"`
	Focus    string   `json:"focus"`
	Priority Priority `json:"priority"`
}

// Concerns returns the concerns detected in the note plus the forced
// focus concerns, de-duplicated in canonical order.
func Concerns(note model.ClinicalNote, focus []string) []classify.Concern {
	found := map[classify.Concern]bool{}
	for _, c := range classify.Detect(note.Subjective + "\n" + note.Assessment) {
		found[c] = true
	}
	for _, f := range focus {
		if c, err := classify.ResolveAlias(f); err == nil {
			found[c] = true
		}
	}
	if cat := note.Vitals.BPCategory(); cat == model.BPStage1 || cat == model.BPStage2 || cat == model.BPCrisis {
		found[classify.Hypertension] = true
	}
	var out []classify.Concern
	for _, c := range classify.AllConcerns() {
		if found[c] {
			out = append(out, c)
		}
	}
	return out
}

// Questions derives up to limit research questions from a note: one per
// assessment item, one per planned medication, then guideline and workup
// questions for each concern.
func Questions(note model.ClinicalNote, concerns []classify.Concern, limit int) []Question {
	if limit <= 0 {
		limit = DefaultMaxQuestions
	}
	var qs []Question
	add := func(p Priority, focus, format string, args ...any) {
		qs = append(qs, Question{Text: fmt.Sprintf(format, args...), Focus: focus, Priority: p})
	}

	bpContext := strings.ToLower(note.Vitals.BPCategory())
	if bpContext == strings.ToLower(model.BPUnknown) || bpContext == strings.ToLower(model.BPNormal) {
		bpContext = ""
	}

	items := Items(note.Assessment)
	for _, item := range items {
		add(PriorityHigh, "assessment", "evidence based management of %s", item)
	}
	for _, med := range Medications(note.Plan) {
		condition := bpContext
		if condition == "" && len(items) > 0 {
			condition = items[0]
		}
		if condition != "" {
			add(PriorityHigh, "medication", "safety and efficacy of %s in %s", med, strings.ToLower(condition))
		} else {
			add(PriorityHigh, "medication", "safety and efficacy of %s", med)
		}
	}
	for _, c := range concerns {
		p := classify.ProfileOf(c)
		add(PriorityMedium, "guidelines", "%s recommendations for %s", p.Guidelines[0], c)
		if len(p.Workup) >= 2 {
			add(PriorityMedium, "diagnostic", "diagnostic accuracy of %s and %s in %s", p.Workup[0], p.Workup[1], c)
		}
	}
	for _, c := range concerns {
		if c.Cardiovascular() {
			add(PriorityLow, "risk_assessment", "using %s for cardiovascular risk assessment", classify.RiskCalculators[0])
			break
		}
	}
	if len(qs) == 0 && strings.TrimSpace(note.Subjective) != "" {
		add(PriorityHigh, "subjective", "%s", firstSentence(note.Subjective))
	}

	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Priority < qs[j].Priority })
	seen := map[string]bool{}
	out := qs[:0]
	for _, q := range qs {
		key := strings.ToLower(q.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.IndexAny(s, ".?!"); i > 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}
