package clinical

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/classify"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/signal"
	"github.com/Nellodipolito/pubmed-search-api/internal/synthesis"
)

// Guideline class assigned to the built-in rules.
const ClassI = "Class I"

const recommendSystem = "You are a clinical decision support assistant. Every recommendation must cite a named guideline or numbered evidence. Respond with JSON only."

const recommendPrompt = `Patient note:
%s

Numbered evidence:
%s
Return JSON with the keys urgent_actions, risk_assessment, diagnostics, medications, monitoring, patient_education and follow_up.
Each key holds a list of {"action":"","rationale":"","guideline":"","evidence_level":"","citations":[1]}.
Cite only the evidence numbers listed above. Leave guideline empty unless a specific published guideline applies.`

// Evidence is one numbered article available to the recommender.
type Evidence struct {
	Number   int           `json:"number"`
	Article  model.Article `json:"article"`
	Question string        `json:"question"`
}

// EvidenceList numbers the articles found per question, de-duplicated by
// PMID in question order.
func EvidenceList(questions []Question, articles [][]model.Article) []Evidence {
	var out []Evidence
	seen := map[string]bool{}
	for i, list := range articles {
		for _, a := range list {
			if seen[a.PMID] {
				continue
			}
			seen[a.PMID] = true
			q := ""
			if i < len(questions) {
				q = questions[i].Text
			}
			out = append(out, Evidence{Number: len(out) + 1, Article: a, Question: q})
		}
	}
	return out
}

type Recommender struct {
	gen ai.Generator
	log *slog.Logger
}

func NewRecommender(gen ai.Generator, log *slog.Logger) *Recommender {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recommender{gen: gen, log: log}
}

// Recommend builds the recommendation set of a note. Rule-based entries
// always apply; model entries are added when the generator succeeds. A
// generator failure is returned alongside the rule-based set.
func (r *Recommender) Recommend(ctx context.Context, note model.ClinicalNote, concerns []classify.Concern, evidence []Evidence) (model.RecommendationSet, error) {
	set := Rules(note, concerns)
	if r.gen == nil {
		return set, nil
	}

	out, err := r.gen.Generate(ctx, ai.Prompt{
		System:    recommendSystem,
		User:      fmt.Sprintf(recommendPrompt, noteText(note), evidenceText(evidence)),
		JSON:      true,
		MaxTokens: 2000,
	})
	if err != nil {
		return set, &model.Error{Kind: model.SynthesisFailure, Step: "recommendations", Err: err}
	}
	var generated model.RecommendationSet
	if err := ParseJSON(out, &generated); err != nil {
		return set, &model.Error{Kind: model.SynthesisFailure, Step: "recommendations", Message: "unreadable recommendation JSON", Err: err}
	}

	byNumber := make(map[int]Evidence, len(evidence))
	for _, e := range evidence {
		byNumber[e.Number] = e
	}
	generatedCats := generated.Categories()
	for i, dst := range set.Categories() {
		for _, rec := range *generatedCats[i] {
			res, ok := r.resolve(rec, byNumber)
			if !ok {
				r.log.Debug("dropping unsupported recommendation", "action", rec.Action)
				continue
			}
			*dst = appendUnique(*dst, res)
		}
	}
	return set, nil
}

// resolve keeps the valid citations of rec, fills Articles and the
// evidence level, and reports whether the entry is supported.
func (r *Recommender) resolve(rec model.Recommendation, byNumber map[int]Evidence) (model.Recommendation, bool) {
	rec.Action = strings.TrimSpace(rec.Action)
	if rec.Action == "" {
		return rec, false
	}
	var (
		nums     []int
		articles []model.Article
	)
	rec.Articles = nil
	for _, n := range rec.Citations {
		e, ok := byNumber[n]
		if !ok {
			continue
		}
		nums = append(nums, n)
		articles = append(articles, e.Article)
		rec.Articles = append(rec.Articles, e.Article.PMID)
	}
	rec.Citations = nums
	if !rec.Supported() {
		return rec, false
	}
	if strings.TrimSpace(rec.EvidenceLevel) == "" {
		rec.EvidenceLevel = signal.Strongest(articles)
	}
	return rec, true
}

// Rules returns the built-in guideline entries that apply to a note.
func Rules(note model.ClinicalNote, concerns []classify.Concern) model.RecommendationSet {
	var set model.RecommendationSet
	has := map[classify.Concern]bool{}
	for _, c := range concerns {
		has[c] = true
	}

	bp := note.Vitals.BPCategory()
	if bp == model.BPStage2 || bp == model.BPCrisis {
		set.UrgentActions = append(set.UrgentActions, model.Recommendation{
			Action:        "Address " + bp,
			Rationale:     fmt.Sprintf("BP %s indicates %s", note.Vitals.BloodPressure, bp),
			Guideline:     "ACC/AHA Hypertension Guidelines",
			EvidenceLevel: ClassI,
		})
	}
	if has[classify.ChestPain] {
		if flags := classify.RedFlags(classify.ChestPain, note.Subjective); len(flags) > 0 {
			set.UrgentActions = append(set.UrgentActions, model.Recommendation{
				Action:        "Evaluate for acute coronary syndrome",
				Rationale:     "Presence of red flags: " + strings.Join(flags, ", "),
				Guideline:     "ACC/AHA Chest Pain Guidelines",
				EvidenceLevel: ClassI,
			})
		}
	}

	for _, c := range concerns {
		p := classify.ProfileOf(c)
		for _, w := range p.Workup {
			set.Diagnostics = appendUnique(set.Diagnostics, model.Recommendation{
				Action:    w,
				Rationale: "Evaluate " + string(c),
				Guideline: p.Guidelines[0],
			})
		}
	}

	if has[classify.ChestPain] || has[classify.Hypertension] {
		set.RiskAssessment = append(set.RiskAssessment, model.Recommendation{
			Action:    "Estimate 10-year cardiovascular risk with the " + classify.RiskCalculators[0],
			Rationale: "Cardiovascular concern present",
			Guideline: "ACC/AHA Primary Prevention Guidelines",
		})
	}

	current := strings.ToLower(note.Plan)
	assessed := classify.Detect(note.Assessment)
	for _, c := range assessed {
		for _, mc := range classify.MedicationClasses(c) {
			if takesAny(current, mc.Examples) {
				continue
			}
			set.Medications = appendUnique(set.Medications, model.Recommendation{
				Action:    "Consider " + mc.Class,
				Rationale: fmt.Sprintf("Standard therapy for %s (e.g. %s)", c, strings.Join(mc.Examples, ", ")),
				Guideline: classify.ProfileOf(c).Guidelines[0],
			})
		}
	}

	if bp != model.BPNormal && bp != model.BPUnknown {
		set.Monitoring = append(set.Monitoring, model.Recommendation{
			Action:    "Home BP monitoring twice daily for 2 weeks",
			Rationale: "Target <130/80 mmHg",
			Guideline: "ACC/AHA Hypertension Guidelines",
		})
	}
	return set
}

func takesAny(plan string, examples []string) bool {
	for _, e := range examples {
		if strings.Contains(plan, e) {
			return true
		}
	}
	return false
}

func appendUnique(list []model.Recommendation, rec model.Recommendation) []model.Recommendation {
	for _, r := range list {
		if strings.EqualFold(r.Action, rec.Action) {
			return list
		}
	}
	return append(list, rec)
}

func noteText(n model.ClinicalNote) string {
	var sb strings.Builder
	if n.Patient.Age != "" || n.Patient.Sex != "" {
		fmt.Fprintf(&sb, "Patient: %s %s\n", n.Patient.Age, n.Patient.Sex)
	}
	if !n.Vitals.Empty() {
		fmt.Fprintf(&sb, "Vitals: BP %s, HR %s, Temp %s, RR %s, SpO2 %s\n",
			n.Vitals.BloodPressure, n.Vitals.HeartRate, n.Vitals.Temperature,
			n.Vitals.RespiratoryRate, n.Vitals.OxygenSaturation)
	}
	fmt.Fprintf(&sb, "Subjective: %s\nObjective: %s\nAssessment: %s\nPlan: %s\n",
		n.Subjective, n.Objective, n.Assessment, n.Plan)
	return sb.String()
}

func evidenceText(evidence []Evidence) string {
	if len(evidence) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, e := range evidence {
		a := e.Article
		fmt.Fprintf(&sb, "[%d] %s (%s %s)", e.Number, a.Title, a.Journal, a.PublicationDate)
		if len(a.PublicationTypes) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(a.PublicationTypes, ", "))
		}
		sb.WriteString("\n")
		if a.Abstract != "" {
			fmt.Fprintf(&sb, "    %s\n", synthesis.Truncate(a.Abstract, 300))
		}
	}
	return sb.String()
}
