// Package pubmed queries the NCBI E-utilities for bibliographic records.
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/upstream"
)

const (
	DefaultBaseURL   = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultBatchSize = 200

	nsSearch  = "pubmed:esearch"
	nsFetch   = "pubmed:efetch"
	nsArticle = "pubmed:article"
)

type Config struct {
	BaseURL   string
	Tool      string
	Email     string
	APIKey    string
	BatchSize int
	SearchTTL cache.TTLRange
	DetailTTL cache.TTLRange
}

// SearchResult is one esearch response. WebEnv and QueryKey form the
// history token that lets efetch page through the hits server-side.
type SearchResult struct {
	Count    int      `json:"count"`
	IDs      []string `json:"ids"`
	WebEnv   string   `json:"-"`
	QueryKey string   `json:"-"`
	Query    string   `json:"query"`
}

// ResultPage is the bibliographic portion of one search.
type ResultPage struct {
	Total    int             `json:"total"`
	Articles []model.Article `json:"articles"`
	Query    string          `json:"query"`
}

type Client struct {
	cfg   Config
	up    *upstream.Client
	cache *cache.Cache
	log   *slog.Logger
	now   func() time.Time
}

func New(cfg Config, up *upstream.Client, c *cache.Cache, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if c == nil {
		c = cache.New(cache.NewMemoryStore(), cache.Options{Logger: log})
	}
	return &Client{cfg: cfg, up: up, cache: c, log: log, now: time.Now}
}

func (c *Client) params(extra url.Values) url.Values {
	v := url.Values{"db": {"pubmed"}}
	if c.cfg.Tool != "" {
		v.Set("tool", c.cfg.Tool)
	}
	if c.cfg.Email != "" {
		v.Set("email", c.cfg.Email)
	}
	if c.cfg.APIKey != "" {
		v.Set("api_key", c.cfg.APIKey)
	}
	for k, vals := range extra {
		v[k] = vals
	}
	return v
}

// dateFilter restricts a term to records published in the last n years,
// counting the current year as the first.
func (c *Client) dateFilter(n int) string {
	from := c.now().Year() - n
	return fmt.Sprintf(`("%d/01/01"[pdat] : "3000"[pdat])`, from)
}

// Search runs esearch with history enabled. A recency window is part of
// the term, so every hit falls inside it.
func (c *Client) Search(ctx context.Context, q model.TranslatedQuery, limit int) (SearchResult, error) {
	if limit <= 0 {
		limit = q.Request.FetchSize()
	}

	term := q.Query
	years, filtered := q.Request.Years()
	if filtered {
		term = "(" + q.Query + ") AND " + c.dateFilter(years)
	}

	sr, err := c.esearch(ctx, term, limit)
	if err != nil {
		return SearchResult{}, err
	}
	c.log.Info("pubmed search", "query", sr.Query, "count", sr.Count, "ids", len(sr.IDs))
	return sr, nil
}

func (c *Client) esearch(ctx context.Context, term string, limit int) (SearchResult, error) {
	retmax := strconv.Itoa(limit)
	fp := cache.Fingerprint(string(model.SourcePubMed), "esearch", term, retmax)
	body, err := c.cache.Fetch(ctx, nsSearch, fp, c.cfg.SearchTTL.For(fp), func(ctx context.Context) ([]byte, error) {
		return c.up.Do(ctx, upstream.Request{
			URL: c.cfg.BaseURL + "/esearch.fcgi",
			Query: c.params(url.Values{
				"term":       {term},
				"retmax":     {retmax},
				"usehistory": {"y"},
				"sort":       {"relevance"},
				"retmode":    {"json"},
			}),
			Validate: validateSearch,
		})
	})
	if err != nil {
		return SearchResult{}, model.AsError(err, model.SourceUnavailable, model.SourcePubMed, "search")
	}

	sr, err := parseSearch(body)
	if err != nil {
		return SearchResult{}, &model.Error{
			Kind:    model.TranslationFailure,
			Source:  model.SourcePubMed,
			Step:    "search",
			Message: "query rejected by source",
			Err:     err,
		}
	}
	sr.Query = term
	return sr, nil
}

// FetchHistory retrieves up to limit records of a search through its
// history token, in batches of at most BatchSize.
func (c *Client) FetchHistory(ctx context.Context, sr SearchResult, limit int) ([]model.Article, error) {
	if sr.WebEnv == "" || sr.QueryKey == "" {
		return c.FetchDetails(ctx, sr.IDs)
	}
	if limit <= 0 || limit > len(sr.IDs) {
		limit = len(sr.IDs)
	}

	var articles []model.Article
	for start := 0; start < limit; start += c.cfg.BatchSize {
		n := min(c.cfg.BatchSize, limit-start)
		fp := cache.Fingerprint(string(model.SourcePubMed), "efetch", sr.WebEnv, sr.QueryKey, strconv.Itoa(start), strconv.Itoa(n))
		body, err := c.cache.Fetch(ctx, nsFetch, fp, 0, func(ctx context.Context) ([]byte, error) {
			return c.up.Do(ctx, upstream.Request{
				URL: c.cfg.BaseURL + "/efetch.fcgi",
				Query: c.params(url.Values{
					"WebEnv":    {sr.WebEnv},
					"query_key": {sr.QueryKey},
					"retstart":  {strconv.Itoa(start)},
					"retmax":    {strconv.Itoa(n)},
					"retmode":   {"xml"},
				}),
				Validate: validateArticles,
			})
		})
		if err != nil {
			return articles, model.AsError(err, model.SourceUnavailable, model.SourcePubMed, "fetch")
		}
		batch, err := parseArticles(body)
		if err != nil {
			return articles, &model.Error{Kind: model.SourceUnavailable, Source: model.SourcePubMed, Step: "fetch", Err: err}
		}
		c.remember(ctx, batch)
		articles = append(articles, batch...)
	}
	return articles, nil
}

// FetchDetails returns the records for ids in the given order. Records
// found in the per-id cache are not requested again; the rest are
// fetched in chunks of at most BatchSize.
func (c *Client) FetchDetails(ctx context.Context, ids []string) ([]model.Article, error) {
	found, missing := c.lookup(ctx, ids)
	return c.fetchMissing(ctx, ids, found, missing)
}

func (c *Client) fetchMissing(ctx context.Context, ids []string, found map[string]model.Article, missing []string) ([]model.Article, error) {
	if len(missing) > 0 {
		c.log.Debug("fetching pubmed details", "cached", len(found), "missing", len(missing))
	}

	var firstErr error
	for start := 0; start < len(missing); start += c.cfg.BatchSize {
		chunk := missing[start:min(start+c.cfg.BatchSize, len(missing))]
		idList := strings.Join(chunk, ",")
		fp := cache.Fingerprint(string(model.SourcePubMed), "efetch", idList)
		body, err := c.cache.Fetch(ctx, nsFetch, fp, 0, func(ctx context.Context) ([]byte, error) {
			return c.up.Do(ctx, upstream.Request{
				Method:   "POST",
				URL:      c.cfg.BaseURL + "/efetch.fcgi",
				Query:    c.params(url.Values{"id": {idList}, "retmode": {"xml"}}),
				Validate: validateArticles,
			})
		})
		if err != nil {
			firstErr = model.AsError(err, model.SourceUnavailable, model.SourcePubMed, "fetch")
			break
		}
		batch, err := parseArticles(body)
		if err != nil {
			firstErr = &model.Error{Kind: model.SourceUnavailable, Source: model.SourcePubMed, Step: "fetch", Err: err}
			break
		}
		c.remember(ctx, batch)
		for _, a := range batch {
			found[a.PMID] = a
		}
	}

	articles := make([]model.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := found[id]; ok {
			articles = append(articles, a)
		}
	}
	return articles, firstErr
}

// Page runs a search and resolves its records in relevance order. The
// history token is used unless at least half of the hits are cached, in
// which case only the missing ids are requested.
func (c *Client) Page(ctx context.Context, q model.TranslatedQuery, limit int) (ResultPage, error) {
	sr, err := c.Search(ctx, q, limit)
	if err != nil {
		return ResultPage{Query: q.Query}, err
	}
	page := ResultPage{Total: sr.Count, Query: sr.Query}
	if len(sr.IDs) == 0 {
		return page, nil
	}

	var articles []model.Article
	found, missing := c.lookup(ctx, sr.IDs)
	if 2*len(found) >= len(sr.IDs) || sr.WebEnv == "" {
		articles, err = c.fetchMissing(ctx, sr.IDs, found, missing)
	} else {
		articles, err = c.FetchHistory(ctx, sr, len(sr.IDs))
		articles = reorder(articles, sr.IDs)
	}
	page.Articles = articles
	return page, err
}

func (c *Client) articleKey(pmid string) string {
	return cache.Fingerprint(string(model.SourcePubMed), "article", pmid)
}

func (c *Client) cached(ctx context.Context, pmid string) (model.Article, bool) {
	payload, ok := c.cache.Lookup(ctx, c.articleKey(pmid))
	if !ok {
		return model.Article{}, false
	}
	var a model.Article
	if err := json.Unmarshal(payload, &a); err != nil {
		return model.Article{}, false
	}
	return a, true
}

// lookup splits ids into cached records and the ids still to fetch.
func (c *Client) lookup(ctx context.Context, ids []string) (map[string]model.Article, []string) {
	found := make(map[string]model.Article, len(ids))
	var missing []string
	for _, id := range ids {
		if a, ok := c.cached(ctx, id); ok {
			found[id] = a
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

func (c *Client) remember(ctx context.Context, articles []model.Article) {
	for _, a := range articles {
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		fp := c.articleKey(a.PMID)
		if err := c.cache.Put(ctx, nsArticle, fp, c.cfg.DetailTTL.For(fp), payload); err != nil {
			c.log.Warn("caching article failed", "pmid", a.PMID, "error", err)
		}
	}
}

// reorder sorts articles by their position in ids. Records not listed
// keep their relative order at the end.
func reorder(articles []model.Article, ids []string) []model.Article {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	out := make([]model.Article, len(ids))
	placed := make([]bool, len(ids))
	var rest []model.Article
	for _, a := range articles {
		if i, ok := pos[a.PMID]; ok && !placed[i] {
			out[i] = a
			placed[i] = true
		} else {
			rest = append(rest, a)
		}
	}
	result := make([]model.Article, 0, len(articles))
	for i := range out {
		if placed[i] {
			result = append(result, out[i])
		}
	}
	return append(result, rest...)
}
