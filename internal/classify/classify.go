// Package classify detects clinical concerns in note text and holds the
// built-in workup and guideline table for each.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Concern is a presenting problem the analyzer knows how to work up.
type Concern string

const (
	ChestPain         Concern = "chest pain"
	Fatigue           Concern = "fatigue"
	ShortnessOfBreath Concern = "shortness of breath"
	Hypertension      Concern = "hypertension"
)

// AllConcerns returns all concerns in canonical order.
func AllConcerns() []Concern {
	return []Concern{ChestPain, Fatigue, ShortnessOfBreath, Hypertension}
}

// Profile is the built-in knowledge attached to a concern.
type Profile struct {
	Diagnoses  []string
	Workup     []string
	Guidelines []string
	RedFlags   []string
}

var concernPatterns = map[Concern][]*regexp.Regexp{
	ChestPain: {
		regexp.MustCompile(`chest\s+(?:pain|discomfort|tightness|pressure|heaviness|squeezing)`),
		regexp.MustCompile(`angina`),
	},
	Fatigue: {
		regexp.MustCompile(`(?:feeling\s+)?(?:tired|fatigued?|exhausted)`),
		regexp.MustCompile(`low\s+energy`),
		regexp.MustCompile(`lethargy`),
	},
	ShortnessOfBreath: {
		regexp.MustCompile(`(?:short|difficulty)\s+(?:of|with)\s+breath`),
		regexp.MustCompile(`shortness\s+of\s+breath`),
		regexp.MustCompile(`dyspn(?:o)?ea`),
		regexp.MustCompile(`breathing\s+(?:difficulty|problem)`),
	},
	Hypertension: {
		regexp.MustCompile(`(?:high|elevated)\s+blood\s+pressure`),
		regexp.MustCompile(`hypertensi(?:on|ve)`),
		regexp.MustCompile(`\bhtn\b`),
	},
}

var profiles = map[Concern]Profile{
	ChestPain: {
		Diagnoses:  []string{"Stable Angina", "Unstable Angina", "Myocardial Ischemia", "Costochondritis", "GERD"},
		Workup:     []string{"ECG", "Cardiac Enzymes", "Stress Test", "Coronary CT Angiography"},
		Guidelines: []string{"ACC/AHA Chest Pain Guidelines", "ESC Guidelines for Chronic Coronary Syndromes"},
		RedFlags:   []string{"radiation to arm", "radiation to jaw", "shortness of breath", "diaphoresis", "nausea", "vomiting", "syncope"},
	},
	Fatigue: {
		Diagnoses:  []string{"Cardiovascular Disease", "Anemia", "Depression", "Sleep Apnea", "Hypothyroidism"},
		Workup:     []string{"CBC", "TSH", "Basic Metabolic Panel", "Sleep Study"},
		Guidelines: []string{"ACP Fatigue Workup Guidelines", "NICE Chronic Fatigue Guidelines"},
	},
	ShortnessOfBreath: {
		Diagnoses:  []string{"Heart Failure", "COPD", "Asthma", "Pulmonary Embolism", "Anemia"},
		Workup:     []string{"Chest X-ray", "BNP", "Pulse Oximetry", "Spirometry"},
		Guidelines: []string{"ACC/AHA Heart Failure Guidelines", "GOLD COPD Report"},
	},
	Hypertension: {
		Diagnoses:  []string{"Essential Hypertension", "Secondary Hypertension", "White Coat Hypertension", "Resistant Hypertension"},
		Workup:     []string{"Basic Metabolic Panel", "Lipid Panel", "Urinalysis", "ECG", "Ambulatory BP Monitoring"},
		Guidelines: []string{"ACC/AHA Hypertension Guidelines", "ESC/ESH Guidelines for Hypertension", "JNC 8 Guidelines"},
		RedFlags:   []string{"severe headache", "visual changes", "neurological symptoms", "chest pain"},
	},
}

// MedicationClass is a drug class with example agents.
type MedicationClass struct {
	Class    string
	Examples []string
}

var medicationClasses = map[Concern][]MedicationClass{
	Hypertension: {
		{"ACE Inhibitors", []string{"lisinopril", "ramipril"}},
		{"ARBs", []string{"losartan", "valsartan"}},
		{"CCBs", []string{"amlodipine", "diltiazem"}},
		{"Thiazides", []string{"hydrochlorothiazide", "chlorthalidone"}},
	},
	ChestPain: {
		{"Beta Blockers", []string{"metoprolol", "carvedilol"}},
		{"Nitrates", []string{"nitroglycerin", "isosorbide"}},
		{"Antiplatelet", []string{"aspirin", "clopidogrel"}},
	},
}

// RiskCalculators are the cardiovascular risk tools worth looking up.
var RiskCalculators = []string{"ASCVD Risk Calculator", "Framingham Risk Score", "HEART Score"}

// ProfileOf returns the built-in profile of c.
func ProfileOf(c Concern) Profile {
	return profiles[c]
}

// MedicationClasses returns the standard drug classes for c.
func MedicationClasses(c Concern) []MedicationClass {
	return medicationClasses[c]
}

// Cardiovascular reports whether c is a cardiovascular concern.
func (c Concern) Cardiovascular() bool {
	return c == ChestPain || c == Hypertension
}

// Aliases maps short flags to concerns.
var Aliases = map[string]Concern{
	"cp":      ChestPain,
	"chest":   ChestPain,
	"fatigue": Fatigue,
	"sob":     ShortnessOfBreath,
	"dyspnea": ShortnessOfBreath,
	"htn":     Hypertension,
	"bp":      Hypertension,
}

// ResolveAlias maps an alias or a full concern name to a Concern.
func ResolveAlias(alias string) (Concern, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if c, ok := Aliases[alias]; ok {
		return c, nil
	}
	for _, c := range AllConcerns() {
		if string(c) == alias {
			return c, nil
		}
	}
	valid := make([]string, 0, len(Aliases))
	for k := range Aliases {
		valid = append(valid, k)
	}
	sort.Strings(valid)
	return "", fmt.Errorf("unknown concern %q (valid: %s)", alias, strings.Join(valid, ", "))
}

// Detect returns every concern mentioned in text, in canonical order.
func Detect(text string) []Concern {
	lower := strings.ToLower(text)
	var out []Concern
	for _, c := range AllConcerns() {
		for _, p := range concernPatterns[c] {
			if p.MatchString(lower) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// RedFlags returns the red flags of c present in text.
func RedFlags(c Concern, text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, f := range profiles[c].RedFlags {
		if strings.Contains(lower, f) {
			out = append(out, f)
		}
	}
	return out
}
