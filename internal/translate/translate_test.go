package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

func request(t *testing.T, text string) model.SearchRequest {
	t.Helper()
	req, err := model.NewSearchRequest(text, model.SearchOptions{})
	if err != nil {
		t.Fatalf("NewSearchRequest: %v", err)
	}
	return req
}

func TestTranslateValidFirstTry(t *testing.T) {
	gen := ai.Texts("```\nOutput: (asthma[tiab] OR wheezing) AND (child OR pediatric)\n```")
	tq, err := New(gen, nil).Translate(context.Background(), request(t, "pediatric asthma treatment"), model.SourcePubMed)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tq.Query != "(asthma[tiab] OR wheezing) AND (child OR pediatric)" {
		t.Errorf("unexpected query %q", tq.Query)
	}
	if tq.Fallback || tq.Attempts != 1 || gen.Calls() != 1 {
		t.Errorf("expected one clean attempt, got %+v calls=%d", tq, gen.Calls())
	}
	if tq.Request.Text != "pediatric asthma treatment" {
		t.Errorf("expected originating request, got %+v", tq.Request)
	}
}

func TestTranslateRetriesWithHint(t *testing.T) {
	gen := ai.Texts("(asthma AND", "asthma AND children")
	tq, err := New(gen, nil).Translate(context.Background(), request(t, "asthma in children"), model.SourcePubMed)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tq.Query != "asthma AND children" || tq.Attempts != 2 {
		t.Errorf("expected corrected query on attempt 2, got %+v", tq)
	}
	second := gen.Prompts()[1].User
	if !strings.Contains(second, "rejected") || !strings.Contains(second, "(asthma AND") {
		t.Errorf("expected hint in retry prompt, got %q", second)
	}
}

func TestTranslateFallsBackAfterTwoInvalid(t *testing.T) {
	gen := ai.Texts("asthma[bogus]", "AND asthma")
	tq, err := New(gen, nil).Translate(context.Background(), request(t, "What is the latest treatment for asthma in children?"), model.SourcePubMed)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !tq.Fallback {
		t.Fatal("expected keyword fallback")
	}
	if tq.Query != "treatment AND asthma AND children" {
		t.Errorf("unexpected fallback %q", tq.Query)
	}
	if gen.Calls() != 2 {
		t.Errorf("expected two generator calls, got %d", gen.Calls())
	}
}

func TestTranslateTransportErrorFallsBack(t *testing.T) {
	gen := ai.NewScripted(ai.Reply{Err: errors.New("connection refused")})
	tq, err := New(gen, nil).Translate(context.Background(), request(t, "hypertension lifestyle"), model.SourceMedlinePlus)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !tq.Fallback || tq.Query != "hypertension lifestyle" {
		t.Errorf("expected space-joined fallback, got %+v", tq)
	}
	if gen.Calls() != 1 {
		t.Errorf("expected no retry after transport error, got %d calls", gen.Calls())
	}
}

func TestTranslateWithoutGenerator(t *testing.T) {
	tq, err := New(nil, nil).Translate(context.Background(), request(t, "migraine prophylaxis"), model.SourcePubMed)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if tq.Query != "migraine AND prophylaxis" || tq.Attempts != 0 {
		t.Errorf("unexpected %+v", tq)
	}
}

func TestTranslateNoKeywords(t *testing.T) {
	_, err := New(nil, nil).Translate(context.Background(), request(t, "what is the"), model.SourcePubMed)
	if model.KindOf(err) != model.TranslationFailure {
		t.Errorf("expected translation_failure, got %v", err)
	}
}

func TestTranslateMedlinePlusLength(t *testing.T) {
	long := strings.Repeat("diabetes ", 40)
	gen := ai.Texts(long, long)
	tq, err := New(gen, nil).Translate(context.Background(), request(t, "diabetes diet"), model.SourceMedlinePlus)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !tq.Fallback || len(tq.Query) > MaxMedlinePlusLength {
		t.Errorf("expected short fallback, got %+v", tq)
	}
}

func TestValidatePubMed(t *testing.T) {
	tests := []struct {
		q  string
		ok bool
	}{
		{"asthma AND children", true},
		{"(asthma[tiab] OR wheezing[tiab]) AND child*", true},
		{`"heart failure"[mh] AND sglt2`, true},
		{"asthma[mh:noexp]", true},
		{"asthma [tiab]", true},
		{`("2021/01/01"[pdat] : "3000"[pdat])`, true},
		{"Review[Publication Type]", true},
		{"(asthma", false},
		{"asthma)", false},
		{`"asthma`, false},
		{"asthma[foo]", false},
		{"asthma[tiab", false},
		{"asthma AND", false},
		{"OR asthma", false},
		{"asthma AND OR children", false},
		{"asthma AND ()", false},
		{"(asthma OR) AND x", false},
		{"[tiab]", false},
		{"   ", false},
	}
	for _, tt := range tests {
		err := Validate(model.SourcePubMed, tt.q)
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%q) = %v, want ok=%v", tt.q, err, tt.ok)
		}
	}
}

func TestValidateMedlinePlus(t *testing.T) {
	tests := []struct {
		q  string
		ok bool
	}{
		{"high blood pressure", true},
		{`"type 2 diabetes" diet`, true},
		{"asthma[tiab]", false},
		{`"asthma`, false},
		{"(asthma", false},
		{strings.Repeat("a", MaxMedlinePlusLength+1), false},
	}
	for _, tt := range tests {
		err := Validate(model.SourceMedlinePlus, tt.q)
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%q) = %v, want ok=%v", tt.q, err, tt.ok)
		}
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("What are the effects of Metformin, metformin and exercise on HbA1c?")
	want := []string{"metformin", "exercise", "hba1c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
}

func TestClean(t *testing.T) {
	tests := []struct{ in, want string }{
		{`"asthma AND children"`, "asthma AND children"},
		{"Query: asthma\nAND children", "asthma AND children"},
		{`"heart failure" AND "sglt2"`, `"heart failure" AND "sglt2"`},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
