package clinical

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

const extractSystem = "You are a clinical documentation assistant. Convert notes into SOAP structure. Respond with JSON only."

const extractPrompt = `Extract the following clinical note into JSON with this shape:
{"patient":{"name":"","age":"","sex":"","date":"","provider":"","visit_type":""},
 "vital_signs":{"blood_pressure":"","heart_rate":"","temperature":"","respiratory_rate":"","oxygen_saturation":"","weight":""},
 "subjective":"","objective":"","assessment":"","plan":""}
Leave a field empty when the note does not mention it. Do not invent findings.

Note:
%s`

// ParseJSON decodes possibly malformed model output into v: as-is, then
// with a closing brace, then repaired.
func ParseJSON(text string, v any) error {
	text = ai.StripFences(text)
	err := jsoniter.UnmarshalFromString(text, v)
	if err == nil {
		return nil
	}
	originalErr := err

	if err := jsoniter.UnmarshalFromString(text+"}", v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return originalErr
	}
	if err := jsoniter.UnmarshalFromString(repaired, v); err == nil {
		return nil
	}
	return originalErr
}

type Extractor struct {
	gen ai.Generator
	log *slog.Logger
}

// NewExtractor creates an extractor. A nil generator uses only the SOAP
// section parser.
func NewExtractor(gen ai.Generator, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Extractor{gen: gen, log: log}
}

// Extract structures a free-text note. Model output that is not a usable
// note falls back to ParseSOAP. Vitals the model missed are filled from
// the text.
func (e *Extractor) Extract(ctx context.Context, text string) (model.ClinicalNote, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ClinicalNote{}, &model.Error{Kind: model.ExtractionFailure, Step: "extraction", Message: "note is empty"}
	}

	if e.gen != nil {
		note, err := e.generate(ctx, text)
		if err == nil && note.Usable() {
			fillVitals(&note.Vitals, ParseVitals(text))
			return note, nil
		}
		if ctx.Err() != nil {
			return model.ClinicalNote{}, &model.Error{Kind: model.ExtractionFailure, Step: "extraction", Err: ctx.Err()}
		}
		e.log.Warn("model extraction unusable, parsing sections", "error", err)
	}

	note := ParseSOAP(text)
	if !note.Usable() {
		return model.ClinicalNote{}, &model.Error{
			Kind:    model.ExtractionFailure,
			Step:    "extraction",
			Message: "no subjective, objective, assessment or plan section found",
		}
	}
	return note, nil
}

func (e *Extractor) generate(ctx context.Context, text string) (model.ClinicalNote, error) {
	out, err := e.gen.Generate(ctx, ai.Prompt{
		System:    extractSystem,
		User:      fmt.Sprintf(extractPrompt, text),
		JSON:      true,
		MaxTokens: 1500,
	})
	if err != nil {
		return model.ClinicalNote{}, fmt.Errorf("generating extraction: %w", err)
	}
	var w noteWire
	if err := ParseJSON(out, &w); err != nil {
		return model.ClinicalNote{}, fmt.Errorf("decoding extraction: %w", err)
	}
	return w.note(), nil
}

// noteWire accepts the field shapes models commonly return: sections as
// strings, lists or keyed objects, and ages as numbers.
type noteWire struct {
	Patient struct {
		Name      flexText `json:"name"`
		Age       flexText `json:"age"`
		Sex       flexText `json:"sex"`
		Date      flexText `json:"date"`
		Provider  flexText `json:"provider"`
		VisitType flexText `json:"visit_type"`
	} `json:"patient"`
	Vitals struct {
		BloodPressure    flexText `json:"blood_pressure"`
		HeartRate        flexText `json:"heart_rate"`
		Temperature      flexText `json:"temperature"`
		RespiratoryRate  flexText `json:"respiratory_rate"`
		OxygenSaturation flexText `json:"oxygen_saturation"`
		Weight           flexText `json:"weight"`
	} `json:"vital_signs"`
	Subjective flexText `json:"subjective"`
	Objective  flexText `json:"objective"`
	Assessment flexText `json:"assessment"`
	Plan       flexText `json:"plan"`
}

func (w noteWire) note() model.ClinicalNote {
	return model.ClinicalNote{
		Patient: model.PatientInfo{
			Name:      string(w.Patient.Name),
			Age:       string(w.Patient.Age),
			Sex:       string(w.Patient.Sex),
			Date:      string(w.Patient.Date),
			Provider:  string(w.Patient.Provider),
			VisitType: string(w.Patient.VisitType),
		},
		Vitals: model.Vitals{
			BloodPressure:    string(w.Vitals.BloodPressure),
			HeartRate:        string(w.Vitals.HeartRate),
			Temperature:      string(w.Vitals.Temperature),
			RespiratoryRate:  string(w.Vitals.RespiratoryRate),
			OxygenSaturation: string(w.Vitals.OxygenSaturation),
			Weight:           string(w.Vitals.Weight),
		},
		Subjective: string(w.Subjective),
		Objective:  string(w.Objective),
		Assessment: string(w.Assessment),
		Plan:       string(w.Plan),
	}
}

// flexText decodes a string, number, list or object into text. Lists
// become one entry per line and objects "key: value" lines.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	var v any
	if err := jsoniter.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexText(strings.TrimSpace(flatten(v)))
	return nil
}

func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		lines := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(flatten(e)); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := strings.TrimSpace(flatten(t[k])); s != "" {
				lines = append(lines, k+": "+s)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprint(t)
	}
}

func fillVitals(dst *model.Vitals, src model.Vitals) {
	fill := func(d *string, s string) {
		if strings.TrimSpace(*d) == "" {
			*d = s
		}
	}
	fill(&dst.BloodPressure, src.BloodPressure)
	fill(&dst.HeartRate, src.HeartRate)
	fill(&dst.Temperature, src.Temperature)
	fill(&dst.RespiratoryRate, src.RespiratoryRate)
	fill(&dst.OxygenSaturation, src.OxygenSaturation)
	fill(&dst.Weight, src.Weight)
}
