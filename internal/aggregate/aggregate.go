// Package aggregate merges source pages into one filtered result set.
package aggregate

import (
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/medline"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pubmed"
)

// Filter selects which merged items are kept.
type Filter struct {
	MaxResults int
	Years      int // 0 disables the recency filter
	Types      []string
	Now        time.Time
}

// FilterFor derives the filter of a search request.
func FilterFor(req model.SearchRequest, now time.Time) Filter {
	f := Filter{MaxResults: req.MaxResults, Types: req.ArticleTypes, Now: now}
	if n, ok := req.Years(); ok {
		f.Years = n
	}
	return f
}

// Counters records why items were left out.
type Counters struct {
	Duplicates int `json:"duplicates"`
	Recency    int `json:"recency"`
	Type       int `json:"type"`
	Truncated  int `json:"truncated"`
}

// ResultSet is the merged, filtered view of one search. Articles and
// Topics keep source relevance order.
type ResultSet struct {
	Articles    []model.Article `json:"articles"`
	Topics      []model.Topic   `json:"topics,omitempty"`
	Total       int             `json:"total"`
	TopicsTotal int             `json:"topics_total,omitempty"`
	Shown       int             `json:"shown"`
	Filtered    Counters        `json:"filtered"`
	Attribution string          `json:"attribution,omitempty"`
}

// Empty reports whether nothing survived filtering.
func (r ResultSet) Empty() bool {
	return len(r.Articles) == 0 && len(r.Topics) == 0
}

// Aggregate merges pages in order. The first occurrence of a PMID or
// topic URL wins. Total is the sum of source counts before filtering.
func Aggregate(pages []pubmed.ResultPage, topics []medline.TopicPage, f Filter) ResultSet {
	var rs ResultSet
	if f.Now.IsZero() {
		f.Now = time.Now()
	}
	minYear := f.Now.Year() - f.Years

	seen := map[string]bool{}
	for _, p := range pages {
		rs.Total += p.Total
		for _, a := range p.Articles {
			if seen[a.PMID] {
				rs.Filtered.Duplicates++
				continue
			}
			seen[a.PMID] = true
			if f.Years > 0 {
				if y, ok := a.Year(); !ok || y < minYear {
					rs.Filtered.Recency++
					continue
				}
			}
			if !matchesTypes(a, f.Types) {
				rs.Filtered.Type++
				continue
			}
			rs.Articles = append(rs.Articles, a)
		}
	}

	seenURL := map[string]bool{}
	for _, tp := range topics {
		rs.TopicsTotal += tp.Count
		if rs.Attribution == "" {
			rs.Attribution = tp.Attribution
		}
		for _, t := range tp.Topics {
			if seenURL[t.URL] {
				rs.Filtered.Duplicates++
				continue
			}
			seenURL[t.URL] = true
			rs.Topics = append(rs.Topics, t)
		}
	}
	if len(rs.Topics) > 0 && rs.Attribution == "" {
		rs.Attribution = model.MedlinePlusAttribution
	}

	if f.MaxResults > 0 {
		if n := len(rs.Articles); n > f.MaxResults {
			rs.Filtered.Truncated += n - f.MaxResults
			rs.Articles = rs.Articles[:f.MaxResults]
		}
		if n := len(rs.Topics); n > f.MaxResults {
			rs.Filtered.Truncated += n - f.MaxResults
			rs.Topics = rs.Topics[:f.MaxResults]
		}
	}
	rs.Shown = len(rs.Articles) + len(rs.Topics)
	return rs
}

func matchesTypes(a model.Article, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if pubmed.MatchType(t, a.PublicationTypes) {
			return true
		}
	}
	return false
}
