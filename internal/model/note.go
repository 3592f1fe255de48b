package model

import (
	"regexp"
	"strconv"
	"strings"
)

// PatientInfo is free-text metadata; every field is optional.
type PatientInfo struct {
	Name      string `json:"name,omitempty"`
	Age       string `json:"age,omitempty"`
	Sex       string `json:"sex,omitempty"`
	Date      string `json:"date,omitempty"`
	Provider  string `json:"provider,omitempty"`
	VisitType string `json:"visit_type,omitempty"`
}

// Vitals holds named vital-sign readings as recorded.
type Vitals struct {
	BloodPressure    string            `json:"blood_pressure,omitempty"`
	HeartRate        string            `json:"heart_rate,omitempty"`
	Temperature      string            `json:"temperature,omitempty"`
	RespiratoryRate  string            `json:"respiratory_rate,omitempty"`
	OxygenSaturation string            `json:"oxygen_saturation,omitempty"`
	Weight           string            `json:"weight,omitempty"`
	Other            map[string]string `json:"other,omitempty"`
}

// BP categories per the ACC/AHA 2017 classification.
const (
	BPUnknown  = "Unknown"
	BPNormal   = "Normal"
	BPElevated = "Elevated"
	BPStage1   = "Stage 1 Hypertension"
	BPStage2   = "Stage 2 Hypertension"
	BPCrisis   = "Hypertensive Crisis"
)

var bpPattern = regexp.MustCompile(`(\d{2,3})\s*/\s*(\d{2,3})`)

// ParseBP extracts systolic and diastolic pressure.
func (v Vitals) ParseBP() (systolic, diastolic int, ok bool) {
	m := bpPattern.FindStringSubmatch(v.BloodPressure)
	if m == nil {
		return 0, 0, false
	}
	systolic, _ = strconv.Atoi(m[1])
	diastolic, _ = strconv.Atoi(m[2])
	return systolic, diastolic, systolic > 0 && diastolic > 0
}

func (v Vitals) BPCategory() string {
	s, d, ok := v.ParseBP()
	if !ok {
		return BPUnknown
	}
	switch {
	case s >= 180 || d >= 120:
		return BPCrisis
	case s >= 140 || d >= 90:
		return BPStage2
	case s >= 130 || d >= 80:
		return BPStage1
	case s >= 120:
		return BPElevated
	default:
		return BPNormal
	}
}

// Empty reports whether no vital sign was recorded.
func (v Vitals) Empty() bool {
	return v.BloodPressure == "" && v.HeartRate == "" && v.Temperature == "" &&
		v.RespiratoryRate == "" && v.OxygenSaturation == "" && v.Weight == "" && len(v.Other) == 0
}

// ClinicalNote is a SOAP-structured note.
type ClinicalNote struct {
	Patient    PatientInfo `json:"patient"`
	Vitals     Vitals      `json:"vital_signs"`
	Subjective string      `json:"subjective"`
	Objective  string      `json:"objective"`
	Assessment string      `json:"assessment"`
	Plan       string      `json:"plan"`
}

// Usable reports whether at least one narrative section has content.
func (n ClinicalNote) Usable() bool {
	return strings.TrimSpace(n.Subjective) != "" || strings.TrimSpace(n.Objective) != "" ||
		strings.TrimSpace(n.Assessment) != "" || strings.TrimSpace(n.Plan) != ""
}

// Recommendation is one evidence-backed entry of a RecommendationSet.
type Recommendation struct {
	Action        string   `json:"action"`
	Rationale     string   `json:"rationale,omitempty"`
	Guideline     string   `json:"guideline,omitempty"`
	EvidenceLevel string   `json:"evidence_level,omitempty"`
	Citations     []int    `json:"citations,omitempty"`
	Articles      []string `json:"articles,omitempty"`
}

// Supported reports whether the entry cites a guideline or an article.
func (r Recommendation) Supported() bool {
	return strings.TrimSpace(r.Guideline) != "" || len(r.Articles) > 0
}

// RecommendationSet groups recommendations by category.
type RecommendationSet struct {
	UrgentActions    []Recommendation `json:"urgent_actions"`
	RiskAssessment   []Recommendation `json:"risk_assessment"`
	Diagnostics      []Recommendation `json:"diagnostics"`
	Medications      []Recommendation `json:"medications"`
	Monitoring       []Recommendation `json:"monitoring"`
	PatientEducation []Recommendation `json:"patient_education"`
	FollowUp         []Recommendation `json:"follow_up"`
}

// Categories returns pointers to every category list in display order.
func (s *RecommendationSet) Categories() []*[]Recommendation {
	return []*[]Recommendation{
		&s.UrgentActions, &s.RiskAssessment, &s.Diagnostics, &s.Medications,
		&s.Monitoring, &s.PatientEducation, &s.FollowUp,
	}
}

// Len is the total number of entries.
func (s *RecommendationSet) Len() int {
	n := 0
	for _, c := range s.Categories() {
		n += len(*c)
	}
	return n
}
