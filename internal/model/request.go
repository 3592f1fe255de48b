package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultMaxResults = 5
	MaxResultsLimit   = 100
	DefaultYearFilter = "5"
)

// SourceKind identifies one of the external biomedical sources.
type SourceKind string

const (
	SourcePubMed      SourceKind = "pubmed"
	SourceMedlinePlus SourceKind = "medlineplus"
)

// SearchRequest is a validated search question. Build it with
// NewSearchRequest and pass it by value.
type SearchRequest struct {
	Text                  string   `json:"text"`
	MaxResults            int      `json:"max_results"`
	YearFilter            string   `json:"year_filter"`
	ArticleTypes          []string `json:"article_types,omitempty"`
	IncludeConsumerHealth bool     `json:"include_consumer_health"`
	Language              string   `json:"language,omitempty"`
}

// SearchOptions holds the optional parts of a SearchRequest. Nil pointers
// select the defaults.
type SearchOptions struct {
	MaxResults            int
	YearFilter            *string
	ArticleTypes          []string
	IncludeConsumerHealth bool
	Language              string
}

// NewSearchRequest validates and normalizes a search question.
func NewSearchRequest(text string, opts SearchOptions) (SearchRequest, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return SearchRequest{}, &Error{Kind: InvalidRequest, Step: "request", Message: "text is required"}
	}

	maxResults := opts.MaxResults
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults < 1 || maxResults > MaxResultsLimit {
		return SearchRequest{}, &Error{
			Kind:    InvalidRequest,
			Step:    "request",
			Message: fmt.Sprintf("max_results must be between 1 and %d, got %d", MaxResultsLimit, maxResults),
		}
	}

	yearFilter := DefaultYearFilter
	if opts.YearFilter != nil {
		yearFilter = strings.TrimSpace(*opts.YearFilter)
	}
	if yearFilter != "" {
		n, err := strconv.Atoi(yearFilter)
		if err != nil || n <= 0 {
			return SearchRequest{}, &Error{
				Kind:    InvalidRequest,
				Step:    "request",
				Message: fmt.Sprintf("year_filter must be a positive number of years or empty, got %q", yearFilter),
			}
		}
	}

	lang := strings.ToLower(strings.TrimSpace(opts.Language))
	switch lang {
	case "":
		lang = "en"
	case "en", "es":
	default:
		return SearchRequest{}, &Error{
			Kind:    InvalidRequest,
			Step:    "request",
			Message: fmt.Sprintf("language must be en or es, got %q", opts.Language),
		}
	}

	var types []string
	for _, t := range opts.ArticleTypes {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	return SearchRequest{
		Text:                  text,
		MaxResults:            maxResults,
		YearFilter:            yearFilter,
		ArticleTypes:          types,
		IncludeConsumerHealth: opts.IncludeConsumerHealth,
		Language:              lang,
	}, nil
}

// Years returns the recency window in years. ok is false when the
// request is unbounded.
func (r SearchRequest) Years() (n int, ok bool) {
	if r.YearFilter == "" {
		return 0, false
	}
	n, err := strconv.Atoi(r.YearFilter)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// FetchSize is the number of records to request from the bibliographic
// source. A type filter discards records client-side, so it over-fetches.
func (r SearchRequest) FetchSize() int {
	n := r.MaxResults
	if len(r.ArticleTypes) > 0 {
		n *= 3
	}
	if n > MaxResultsLimit*3 {
		n = MaxResultsLimit * 3
	}
	return n
}

// TranslatedQuery is the boolean query sent to one source.
type TranslatedQuery struct {
	Query    string        `json:"query"`
	Source   SourceKind    `json:"source"`
	Request  SearchRequest `json:"-"`
	Fallback bool          `json:"fallback,omitempty"`
	Attempts int           `json:"attempts"`
}
