package synthesis

import (
	"strconv"

	"github.com/Nellodipolito/pubmed-search-api/internal/aggregate"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// Registry maps the provisional numbers shown to the model onto final
// citation numbers assigned in first-mention order.
type Registry struct {
	items    []model.Citation // indexed by provisional number - 1
	final    map[int]int      // provisional -> final
	assigned []int            // provisional numbers in final order
}

// NewRegistry numbers the items of rs provisionally: articles first, then
// topics, each in relevance order.
func NewRegistry(rs aggregate.ResultSet) *Registry {
	r := &Registry{final: map[int]int{}}
	for _, a := range rs.Articles {
		year := ""
		if y, ok := a.Year(); ok {
			year = strconv.Itoa(y)
		}
		r.items = append(r.items, model.Citation{
			Kind:             model.ItemArticle,
			ID:               a.PMID,
			Title:            a.Title,
			URL:              model.PubMedURL(a.PMID),
			Authors:          a.Authors,
			Journal:          a.Journal,
			Year:             year,
			DOI:              a.DOI,
			PublicationTypes: a.PublicationTypes,
		})
	}
	for _, t := range rs.Topics {
		r.items = append(r.items, model.Citation{
			Kind:    model.ItemTopic,
			ID:      t.URL,
			Title:   t.Title,
			URL:     t.URL,
			Journal: "MedlinePlus",
		})
	}
	return r
}

// Len is the number of citable items.
func (r *Registry) Len() int { return len(r.items) }

// Valid reports whether provisional names an item.
func (r *Registry) Valid(provisional int) bool {
	return provisional >= 1 && provisional <= len(r.items)
}

// Resolve returns the final number of a provisional one, assigning the
// next free number on first mention.
func (r *Registry) Resolve(provisional int) (int, bool) {
	if !r.Valid(provisional) {
		return 0, false
	}
	if n, ok := r.final[provisional]; ok {
		return n, true
	}
	r.assigned = append(r.assigned, provisional)
	n := len(r.assigned)
	r.final[provisional] = n
	return n, true
}

// Cited returns the citations that were mentioned, in final order.
func (r *Registry) Cited() []model.Citation {
	out := make([]model.Citation, 0, len(r.assigned))
	for i, p := range r.assigned {
		c := r.items[p-1]
		c.Number = i + 1
		out = append(out, c)
	}
	return out
}

// Uncited returns the items no marker mentioned, in relevance order.
// They carry no number.
func (r *Registry) Uncited() []model.Citation {
	var out []model.Citation
	for p := 1; p <= len(r.items); p++ {
		if _, ok := r.final[p]; !ok {
			out = append(out, r.items[p-1])
		}
	}
	return out
}

// Lookup returns the citation with the given final number.
func (r *Registry) Lookup(final int) (model.Citation, bool) {
	if final < 1 || final > len(r.assigned) {
		return model.Citation{}, false
	}
	c := r.items[r.assigned[final-1]-1]
	c.Number = final
	return c, true
}
