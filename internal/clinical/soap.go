package clinical

import (
	"regexp"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// sectionHeading matches "S –", "O -", "A:", "Assessment:" and similar
// SOAP headings at the start of a line.
var sectionHeading = regexp.MustCompile(`^(?i)(S|O|A|P|subjective|objective|assessment|plan)\s*(?:[–—:-]|\s*$)\s*(.*)$`)

var vitalPatterns = []struct {
	re  *regexp.Regexp
	set func(*model.Vitals, string)
}{
	{regexp.MustCompile(`(?i)\b(?:BP|blood pressure)\s*:?\s*(\d{2,3}\s*/\s*\d{2,3})`), func(v *model.Vitals, s string) { v.BloodPressure = strings.ReplaceAll(s, " ", "") }},
	{regexp.MustCompile(`(?i)\b(?:HR|heart rate|pulse)\s*:?\s*(\d{2,3})`), func(v *model.Vitals, s string) { v.HeartRate = s }},
	{regexp.MustCompile(`(?i)\b(?:Temp|temperature|T)\s*:?\s*(\d{2,3}(?:\.\d)?\s*°?\s*[FC]?)\b`), func(v *model.Vitals, s string) { v.Temperature = strings.TrimSpace(s) }},
	{regexp.MustCompile(`(?i)\b(?:RR|resp(?:iratory)? rate)\s*:?\s*(\d{1,2})`), func(v *model.Vitals, s string) { v.RespiratoryRate = s }},
	{regexp.MustCompile(`(?i)(?:SpO₂|SpO2|O2 sat(?:uration)?|sat)\s*:?\s*(\d{2,3}\s*%)`), func(v *model.Vitals, s string) { v.OxygenSaturation = strings.ReplaceAll(s, " ", "") }},
	{regexp.MustCompile(`(?i)\b(?:Wt|weight)\s*:?\s*(\d{2,3}(?:\.\d)?\s*(?:kg|lbs?)?)`), func(v *model.Vitals, s string) { v.Weight = strings.TrimSpace(s) }},
}

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•·]|\d+[.)])\s*`)

// ParseSOAP splits a note into its SOAP sections without a language
// model. Lines before the first heading are read as "Key: value" patient
// metadata.
func ParseSOAP(text string) model.ClinicalNote {
	sections := map[string][]string{}
	current := "header"
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if m := sectionHeading.FindStringSubmatch(trimmed); m != nil {
			current = strings.ToUpper(m[1][:1])
			if rest := strings.TrimSpace(m[2]); rest != "" {
				sections[current] = append(sections[current], rest)
			}
			continue
		}
		sections[current] = append(sections[current], trimmed)
	}

	join := func(key string) string {
		return strings.TrimSpace(strings.Join(sections[key], "\n"))
	}
	note := model.ClinicalNote{
		Patient:    parseHeader(sections["header"]),
		Subjective: join("S"),
		Objective:  join("O"),
		Assessment: join("A"),
		Plan:       join("P"),
	}
	vitalsText := note.Objective
	if vitalsText == "" {
		vitalsText = text
	}
	note.Vitals = ParseVitals(vitalsText)
	return note
}

func parseHeader(lines []string) model.PatientInfo {
	var p model.PatientInfo
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_") {
		case "name", "patient", "patient_name":
			p.Name = value
		case "age":
			p.Age = value
		case "sex", "gender":
			p.Sex = value
		case "date", "visit_date", "date_of_visit":
			p.Date = value
		case "provider", "physician", "clinician":
			p.Provider = value
		case "visit_type", "visit", "type":
			p.VisitType = value
		}
	}
	return p
}

// ParseVitals extracts vital signs written as "BP: 150/95", "HR 88" and
// so on.
func ParseVitals(text string) model.Vitals {
	var v model.Vitals
	for _, p := range vitalPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			p.set(&v, m[1])
		}
	}
	return v
}

// Items splits a section into its list entries, dropping bullets and
// numbering.
func Items(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Medications returns the entries listed under a "Medications:" heading
// of the plan.
func Medications(plan string) []string {
	var out []string
	in := false
	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ":") {
			heading := strings.ToLower(strings.TrimSuffix(trimmed, ":"))
			in = heading == "medications" || heading == "meds" || heading == "medication"
			continue
		}
		if !in || trimmed == "" {
			continue
		}
		if item := strings.TrimSpace(bulletPrefix.ReplaceAllString(trimmed, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}
