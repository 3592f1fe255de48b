package clinical

import (
	"context"
	"strings"
	"testing"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/classify"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/signal"
)

const sampleNote = `Patient: John Doe
Age: 58
Sex: M
Date: 2025-03-14
Provider: Dr. Smith
Visit Type: Follow-up

S – Patient reports intermittent chest pain on exertion with diaphoresis. Feeling tired for 3 weeks.
O – BP: 150/95, HR: 88, Temp: 98.6F, RR: 16, SpO₂: 97%
Lungs clear to auscultation.
A – Stable angina
Hypertension
P – Diagnostics:
- ECG
Medications:
- lisinopril 10 mg daily
Follow-Up:
- 2 weeks`

func TestParseSOAP(t *testing.T) {
	note := ParseSOAP(sampleNote)

	if note.Patient.Name != "John Doe" || note.Patient.Age != "58" || note.Patient.VisitType != "Follow-up" {
		t.Errorf("unexpected patient %+v", note.Patient)
	}
	if !strings.HasPrefix(note.Subjective, "Patient reports intermittent chest pain") {
		t.Errorf("unexpected subjective %q", note.Subjective)
	}
	if !strings.Contains(note.Objective, "Lungs clear") {
		t.Errorf("unexpected objective %q", note.Objective)
	}
	if got := Items(note.Assessment); len(got) != 2 || got[0] != "Stable angina" || got[1] != "Hypertension" {
		t.Errorf("unexpected assessment items %v", got)
	}
	if meds := Medications(note.Plan); len(meds) != 1 || meds[0] != "lisinopril 10 mg daily" {
		t.Errorf("unexpected medications %v", meds)
	}
}

func TestParseVitals(t *testing.T) {
	v := ParseVitals("BP: 150/95, HR: 88, Temp: 98.6F, RR: 16, SpO₂: 97%, Weight: 92 kg")
	checks := map[string][2]string{
		"bp":     {v.BloodPressure, "150/95"},
		"hr":     {v.HeartRate, "88"},
		"temp":   {v.Temperature, "98.6F"},
		"rr":     {v.RespiratoryRate, "16"},
		"spo2":   {v.OxygenSaturation, "97%"},
		"weight": {v.Weight, "92 kg"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
	if v.BPCategory() != model.BPStage2 {
		t.Errorf("expected stage 2, got %s", v.BPCategory())
	}
}

func TestExtractWithModel(t *testing.T) {
	// missing closing brace
	gen := ai.Texts("```json\n{\"subjective\": \"chest pain on exertion\", \"assessment\": [\"Stable angina\", \"Hypertension\"], \"patient\": {\"age\": 58}, \"vital_signs\": {\"heart_rate\": \"90\"}\n```")
	note, err := NewExtractor(gen, nil).Extract(context.Background(), sampleNote)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if note.Assessment != "Stable angina\nHypertension" || note.Patient.Age != "58" {
		t.Errorf("unexpected note %+v", note)
	}
	if note.Vitals.HeartRate != "90" {
		t.Errorf("expected model heart rate to be kept, got %q", note.Vitals.HeartRate)
	}
	if note.Vitals.BloodPressure != "150/95" {
		t.Errorf("expected blood pressure filled from text, got %q", note.Vitals.BloodPressure)
	}
	if !gen.Prompts()[0].JSON {
		t.Error("expected JSON mode for extraction")
	}
}

func TestExtractFallsBackToParser(t *testing.T) {
	gen := ai.Texts("I cannot help with that.")
	note, err := NewExtractor(gen, nil).Extract(context.Background(), sampleNote)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if note.Vitals.BloodPressure != "150/95" || note.Assessment == "" {
		t.Errorf("expected parsed note, got %+v", note)
	}
}

func TestExtractFailure(t *testing.T) {
	tests := []string{"", "   ", "just a sentence without any sections"}
	for _, text := range tests {
		_, err := NewExtractor(nil, nil).Extract(context.Background(), text)
		if model.KindOf(err) != model.ExtractionFailure {
			t.Errorf("Extract(%q): expected extraction_failure, got %v", text, err)
		}
	}
}

func TestTextReader(t *testing.T) {
	ctx := context.Background()
	if text, err := (TextReader{}).ReadText(ctx, "note.txt", []byte(sampleNote)); err != nil || text != sampleNote {
		t.Errorf("expected text document to be read, got %v", err)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"note.pdf", []byte("%PDF-1.7 binary")},
		{"scan", []byte("%PDF-1.4")},
		{"note.docx", []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0x01}},
		{"note.txt", []byte{0xff, 0xfe, 0xfd}},
	}
	for _, tt := range tests {
		if _, err := (TextReader{}).ReadText(ctx, tt.name, tt.data); model.KindOf(err) != model.ExtractionFailure {
			t.Errorf("ReadText(%q): expected extraction_failure, got %v", tt.name, err)
		}
	}
}

func TestInputValidate(t *testing.T) {
	note := ParseSOAP(sampleNote)
	tests := []struct {
		name string
		in   Input
		ok   bool
	}{
		{"raw text", Input{Mode: ModeRawText, Text: sampleNote}, true},
		{"default mode", Input{Text: sampleNote}, true},
		{"empty text", Input{Mode: ModeRawText}, false},
		{"document", Input{Mode: ModeDocument, Document: []byte("x")}, true},
		{"empty document", Input{Mode: ModeDocument}, false},
		{"structured", Input{Mode: ModeStructured, Note: &note}, true},
		{"structured empty", Input{Mode: ModeStructured, Note: &model.ClinicalNote{}}, false},
		{"unknown mode", Input{Mode: "fax"}, false},
	}
	for _, tt := range tests {
		if err := tt.in.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestConcernsAndQuestions(t *testing.T) {
	note := ParseSOAP(sampleNote)
	concerns := Concerns(note, nil)
	want := []classify.Concern{classify.ChestPain, classify.Fatigue, classify.Hypertension}
	if len(concerns) != len(want) {
		t.Fatalf("expected %v, got %v", want, concerns)
	}

	qs := Questions(note, concerns, 6)
	if len(qs) != 6 {
		t.Fatalf("expected 6 questions, got %d", len(qs))
	}
	if qs[0].Text != "evidence based management of Stable angina" || qs[0].Priority != PriorityHigh {
		t.Errorf("unexpected first question %+v", qs[0])
	}
	if qs[2].Text != "safety and efficacy of lisinopril 10 mg daily in stage 2 hypertension" {
		t.Errorf("unexpected medication question %q", qs[2].Text)
	}
	for i := 1; i < len(qs); i++ {
		if qs[i].Priority < qs[i-1].Priority {
			t.Errorf("questions not priority ordered at %d", i)
		}
	}
	if len(Questions(note, concerns, 2)) != 2 {
		t.Error("expected cap to be honoured")
	}
}

func TestQuestionsDeduplicated(t *testing.T) {
	note := model.ClinicalNote{Assessment: "Asthma\n- asthma\n1. Asthma"}
	qs := Questions(note, nil, 6)
	if len(qs) != 1 {
		t.Errorf("expected one question, got %+v", qs)
	}
}

func TestConcernsFocus(t *testing.T) {
	concerns := Concerns(model.ClinicalNote{Subjective: "cough"}, []string{"sob", "bogus"})
	if len(concerns) != 1 || concerns[0] != classify.ShortnessOfBreath {
		t.Errorf("expected forced focus, got %v", concerns)
	}
}

func TestRules(t *testing.T) {
	note := ParseSOAP(sampleNote)
	set := Rules(note, Concerns(note, nil))

	if len(set.UrgentActions) != 2 {
		t.Fatalf("expected BP and chest pain urgent actions, got %+v", set.UrgentActions)
	}
	if set.UrgentActions[0].Guideline != "ACC/AHA Hypertension Guidelines" || set.UrgentActions[0].EvidenceLevel != ClassI {
		t.Errorf("unexpected BP action %+v", set.UrgentActions[0])
	}
	if !strings.Contains(set.UrgentActions[1].Rationale, "diaphoresis") {
		t.Errorf("expected red flag rationale, got %q", set.UrgentActions[1].Rationale)
	}
	if len(set.Monitoring) != 1 {
		t.Error("expected home BP monitoring")
	}
	for _, m := range set.Medications {
		if m.Action == "Consider ACE Inhibitors" {
			t.Error("patient already takes an ACE inhibitor")
		}
	}
	assertSupported(t, set)
}

func TestRulesNormalBP(t *testing.T) {
	set := Rules(model.ClinicalNote{Vitals: model.Vitals{BloodPressure: "112/70"}, Subjective: "cough"}, nil)
	if set.Len() != 0 {
		t.Errorf("expected no rule entries, got %+v", set)
	}
}

func TestRecommendDropsUnsupported(t *testing.T) {
	evidence := EvidenceList(
		[]Question{{Text: "q1"}, {Text: "q2"}},
		[][]model.Article{
			{{PMID: "11", PublicationTypes: []string{"Case Reports"}}},
			{{PMID: "11"}, {PMID: "22", PublicationTypes: []string{"Meta-Analysis"}}},
		},
	)
	if len(evidence) != 2 || evidence[1].Number != 2 || evidence[1].Question != "q2" {
		t.Fatalf("unexpected evidence %+v", evidence)
	}

	gen := ai.Texts(`{
		"medications": [
			{"action": "Add amlodipine", "rationale": "BP uncontrolled", "citations": [2]},
			{"action": "Start a supplement", "rationale": "no source"}
		],
		"monitoring": [{"action": "Ambulatory BP", "citations": [9]}],
		"follow_up": [{"action": "Follow up in 2 weeks", "guideline": "ACC/AHA Hypertension Guidelines"}]
	}`)
	note := model.ClinicalNote{Assessment: "cough", Vitals: model.Vitals{BloodPressure: "118/76"}}
	set, err := NewRecommender(gen, nil).Recommend(context.Background(), note, nil, evidence)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if len(set.Medications) != 1 || set.Medications[0].Action != "Add amlodipine" {
		t.Fatalf("unexpected medications %+v", set.Medications)
	}
	med := set.Medications[0]
	if len(med.Articles) != 1 || med.Articles[0] != "22" || med.EvidenceLevel != signal.LevelA {
		t.Errorf("expected resolved article and level, got %+v", med)
	}
	if len(set.Monitoring) != 0 {
		t.Errorf("expected invalid citation to be dropped, got %+v", set.Monitoring)
	}
	if len(set.FollowUp) != 1 {
		t.Errorf("expected guideline-backed follow up, got %+v", set.FollowUp)
	}
	if !strings.Contains(gen.Prompts()[0].User, "[2]") {
		t.Error("expected numbered evidence in prompt")
	}
	assertSupported(t, set)
}

func TestRecommendGeneratorFailureKeepsRules(t *testing.T) {
	note := ParseSOAP(sampleNote)
	gen := ai.Texts("not json")
	set, err := NewRecommender(gen, nil).Recommend(context.Background(), note, Concerns(note, nil), nil)
	if model.KindOf(err) != model.SynthesisFailure {
		t.Errorf("expected synthesis_failure, got %v", err)
	}
	if len(set.UrgentActions) == 0 {
		t.Error("expected rule-based entries despite failure")
	}
}

func assertSupported(t *testing.T, set model.RecommendationSet) {
	t.Helper()
	for _, cat := range set.Categories() {
		for _, r := range *cat {
			if !r.Supported() {
				t.Errorf("unsupported entry %+v", r)
			}
		}
	}
}
