package model

// ItemKind distinguishes the two kinds of citable items.
type ItemKind string

const (
	ItemArticle ItemKind = "article"
	ItemTopic   ItemKind = "topic"
)

// Citation binds a 1-based citation number to one aggregated item.
type Citation struct {
	Number           int      `json:"number"`
	Kind             ItemKind `json:"kind"`
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	Authors          []string `json:"authors,omitempty"`
	Journal          string   `json:"journal,omitempty"`
	Year             string   `json:"year,omitempty"`
	DOI              string   `json:"doi,omitempty"`
	PublicationTypes []string `json:"publication_types,omitempty"`
}

// Segment is one span of narrative text and the citations it references.
type Segment struct {
	Text      string `json:"text"`
	Citations []int  `json:"citations,omitempty"`
}

// SynthesisResult is a narrative whose every [n] marker resolves to
// exactly one entry of Citations, and every entry of Citations is
// referenced by a marker. Uncited lists the remaining items unnumbered.
type SynthesisResult struct {
	Text      string     `json:"summary"`
	Segments  []Segment  `json:"segments"`
	Citations []Citation `json:"citations"`
	Uncited   []Citation `json:"uncited,omitempty"`
	Retried   bool       `json:"retried,omitempty"`
	Stripped  int        `json:"stripped_markers,omitempty"`
}
