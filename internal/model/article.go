package model

import (
	"strconv"
	"unicode"
)

// MedlinePlusAttribution must accompany MedlinePlus content wherever it
// is displayed.
const MedlinePlusAttribution = "Courtesy of MedlinePlus from the National Library of Medicine"

// Article is a bibliographic record. Identity is PMID.
type Article struct {
	PMID             string   `json:"pmid"`
	Title            string   `json:"title"`
	Authors          []string `json:"authors"`
	Abstract         string   `json:"abstract,omitempty"`
	Journal          string   `json:"journal"`
	PublicationDate  string   `json:"publication_date"`
	DOI              string   `json:"doi,omitempty"`
	PMCID            string   `json:"pmc_id,omitempty"`
	MeshTerms        []string `json:"mesh_terms"`
	PublicationTypes []string `json:"publication_types"`
	Keywords         []string `json:"keywords"`
	Affiliations     []string `json:"affiliations,omitempty"`
}

// Year returns the leading four-digit year of the publication date.
func (a Article) Year() (int, bool) {
	s := a.PublicationDate
	for i := 0; i+4 <= len(s); i++ {
		if !isDigits(s[i : i+4]) {
			continue
		}
		if (i > 0 && unicode.IsDigit(rune(s[i-1]))) || (i+4 < len(s) && unicode.IsDigit(rune(s[i+4]))) {
			continue
		}
		y, err := strconv.Atoi(s[i : i+4])
		if err == nil && y > 1000 {
			return y, true
		}
	}
	return 0, false
}

// ArticleURLs are the external links derived from an Article's ids.
type ArticleURLs struct {
	PubMed string `json:"pubmed"`
	DOI    string `json:"doi,omitempty"`
	PMC    string `json:"pmc,omitempty"`
}

func (a Article) URLs() ArticleURLs {
	u := ArticleURLs{PubMed: PubMedURL(a.PMID)}
	if a.DOI != "" {
		u.DOI = "https://doi.org/" + a.DOI
	}
	if a.PMCID != "" {
		u.PMC = "https://www.ncbi.nlm.nih.gov/pmc/articles/" + a.PMCID
	}
	return u
}

// PubMedURL returns the canonical PubMed page for a PMID.
func PubMedURL(pmid string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + pmid
}

// Topic is a consumer-health topic. Identity is URL.
type Topic struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Rank      int      `json:"rank"`
	Summary   string   `json:"summary,omitempty"`
	Snippets  []string `json:"snippets,omitempty"`
	MeshTerms []string `json:"mesh_terms,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
