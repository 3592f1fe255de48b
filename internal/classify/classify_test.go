package classify

import "testing"

func TestDetectChestPain(t *testing.T) {
	got := Detect("Patient reports chest tightness on exertion for two weeks.")
	if len(got) != 1 || got[0] != ChestPain {
		t.Errorf("expected chest pain, got %v", got)
	}
}

func TestDetectMultiple(t *testing.T) {
	got := Detect("Feeling tired lately. History of high blood pressure. Some dyspnea climbing stairs.")
	want := []Concern{Fatigue, ShortnessOfBreath, Hypertension}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("concern %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDetectEmptyInput(t *testing.T) {
	if got := Detect(""); len(got) != 0 {
		t.Errorf("expected no concerns, got %v", got)
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	if got := Detect("HTN, well controlled"); len(got) != 1 || got[0] != Hypertension {
		t.Errorf("expected hypertension, got %v", got)
	}
}

func TestRedFlags(t *testing.T) {
	text := "Chest pain with diaphoresis and radiation to arm since this morning."
	flags := RedFlags(ChestPain, text)
	if len(flags) != 2 {
		t.Errorf("expected 2 red flags, got %v", flags)
	}
	if len(RedFlags(Fatigue, text)) != 0 {
		t.Error("fatigue has no red flags")
	}
}

func TestProfiles(t *testing.T) {
	for _, c := range AllConcerns() {
		p := ProfileOf(c)
		if len(p.Workup) == 0 || len(p.Guidelines) == 0 {
			t.Errorf("%s: expected workup and guidelines", c)
		}
	}
	if len(MedicationClasses(Hypertension)) != 4 {
		t.Error("expected 4 antihypertensive classes")
	}
	if !Hypertension.Cardiovascular() || Fatigue.Cardiovascular() {
		t.Error("unexpected cardiovascular flag")
	}
}

func TestResolveAlias(t *testing.T) {
	tests := []struct {
		alias    string
		expected Concern
		wantErr  bool
	}{
		{"htn", Hypertension, false},
		{"cp", ChestPain, false},
		{"sob", ShortnessOfBreath, false},
		{"Fatigue", Fatigue, false},
		{"chest pain", ChestPain, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		got, err := ResolveAlias(tt.alias)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ResolveAlias(%q): expected error", tt.alias)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveAlias(%q): unexpected error: %v", tt.alias, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ResolveAlias(%q) = %q, want %q", tt.alias, got, tt.expected)
		}
	}
}

func TestAllConcerns(t *testing.T) {
	if n := len(AllConcerns()); n != 4 {
		t.Errorf("expected 4 concerns, got %d", n)
	}
}
