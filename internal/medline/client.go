// Package medline queries the MedlinePlus health topic web service.
package medline

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/upstream"
)

const (
	DefaultBaseURL = "https://wsearch.nlm.nih.gov/ws/query"
	DefaultLimit   = 10

	namespace = "medlineplus:query"
)

type Config struct {
	BaseURL string
	Tool    string
	Email   string
	RetType string // brief or all
	TTL     cache.TTLRange
}

// TopicPage is the consumer-health portion of one search.
type TopicPage struct {
	Count              int           `json:"count"`
	Topics             []model.Topic `json:"topics"`
	SpellingCorrection string        `json:"spelling_correction,omitempty"`
	Attribution        string        `json:"attribution"`
	Query              string        `json:"query"`
	Language           string        `json:"language"`
}

type Client struct {
	cfg   Config
	up    *upstream.Client
	cache *cache.Cache
	log   *slog.Logger
}

func New(cfg Config, up *upstream.Client, c *cache.Cache, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RetType == "" {
		cfg.RetType = "all"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if c == nil {
		c = cache.New(cache.NewMemoryStore(), cache.Options{Logger: log})
	}
	return &Client{cfg: cfg, up: up, cache: c, log: log}
}

func database(lang string) string {
	if lang == "es" {
		return "healthTopicsSpanish"
	}
	return "healthTopics"
}

// Search looks up health topics for q in the request's language. The raw
// response is cached per (query, language, retmax, offset).
func (c *Client) Search(ctx context.Context, q model.TranslatedQuery, limit int) (TopicPage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	lang := q.Request.Language
	if lang == "" {
		lang = "en"
	}
	retmax := strconv.Itoa(limit)
	const offset = "0"

	params := url.Values{
		"db":      {database(lang)},
		"term":    {q.Query},
		"retmax":  {retmax},
		"rettype": {c.cfg.RetType},
	}
	if c.cfg.Tool != "" {
		params.Set("tool", c.cfg.Tool)
	}
	if c.cfg.Email != "" {
		params.Set("email", c.cfg.Email)
	}

	fp := cache.Fingerprint(string(model.SourceMedlinePlus), q.Query, lang, retmax, offset, c.cfg.RetType)
	body, err := c.cache.Fetch(ctx, namespace, fp, c.cfg.TTL.For(fp), func(ctx context.Context) ([]byte, error) {
		return c.up.Do(ctx, upstream.Request{URL: c.cfg.BaseURL, Query: params, Validate: validate})
	})
	if err != nil {
		return TopicPage{Query: q.Query, Language: lang}, model.AsError(err, model.SourceUnavailable, model.SourceMedlinePlus, "search")
	}

	page, err := parse(body)
	if err != nil {
		return TopicPage{Query: q.Query, Language: lang}, &model.Error{
			Kind: model.SourceUnavailable, Source: model.SourceMedlinePlus, Step: "search", Err: err,
		}
	}
	page.Query = q.Query
	page.Language = lang
	c.log.Info("medlineplus search", "query", q.Query, "language", lang, "count", page.Count, "topics", len(page.Topics))
	return page, nil
}

type searchResult struct {
	XMLName            xml.Name   `xml:"nlmSearchResult"`
	Count              int        `xml:"count"`
	SpellingCorrection content    `xml:"spellingCorrection"`
	Documents          []document `xml:"list>document"`
}

type document struct {
	URL      string    `xml:"url,attr"`
	Rank     int       `xml:"rank,attr"`
	Contents []content `xml:"content"`
}

// content is a named field whose highlighting spans are flattened to text.
type content struct {
	Name string
	Text string
}

func (c *content) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		if a.Name.Local == "name" {
			c.Name = a.Value
		}
	}
	var sb strings.Builder
	for depth := 1; depth > 0; {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(v)
		}
	}
	c.Text = strings.TrimSpace(sb.String())
	return nil
}

func validate(body []byte) error {
	var r searchResult
	return xml.Unmarshal(body, &r)
}

func parse(body []byte) (TopicPage, error) {
	var r searchResult
	if err := xml.Unmarshal(body, &r); err != nil {
		return TopicPage{}, fmt.Errorf("decoding medlineplus response: %w", err)
	}

	page := TopicPage{
		Count:              r.Count,
		SpellingCorrection: r.SpellingCorrection.Text,
		Attribution:        model.MedlinePlusAttribution,
		Topics:             make([]model.Topic, 0, len(r.Documents)),
	}
	for _, doc := range r.Documents {
		t := model.Topic{URL: strings.TrimSpace(doc.URL), Rank: doc.Rank}
		if t.URL == "" {
			continue
		}
		for _, c := range doc.Contents {
			switch c.Name {
			case "title":
				t.Title = StripTags(c.Text)
			case "FullSummary":
				t.Summary = Sanitize(c.Text)
			case "snippet":
				t.Snippets = append(t.Snippets, StripTags(c.Text))
			case "mesh":
				t.MeshTerms = append(t.MeshTerms, StripTags(c.Text))
			case "groupName":
				t.Groups = append(t.Groups, StripTags(c.Text))
			}
		}
		page.Topics = append(page.Topics, t)
	}
	return page, nil
}
