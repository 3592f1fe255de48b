// Package pipeline runs searches and note analyses end to end: translate,
// fetch both sources, aggregate, synthesize and, for notes, recommend.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Nellodipolito/pubmed-search-api/internal/aggregate"
	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
	"github.com/Nellodipolito/pubmed-search-api/internal/classify"
	"github.com/Nellodipolito/pubmed-search-api/internal/clinical"
	"github.com/Nellodipolito/pubmed-search-api/internal/medline"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pubmed"
	"github.com/Nellodipolito/pubmed-search-api/internal/ratelimit"
	"github.com/Nellodipolito/pubmed-search-api/internal/synthesis"
	"github.com/Nellodipolito/pubmed-search-api/internal/translate"
)

const (
	DefaultTimeout     = 45 * time.Second
	DefaultNoteTimeout = 2 * time.Minute
	DefaultWorkers     = 3
)

type Options struct {
	Timeout      time.Duration // one search
	FetchTimeout time.Duration // source fan-out inside Timeout; 80% of it when 0
	NoteTimeout  time.Duration // one note analysis, all questions included
	Workers      int           // concurrent question searches per note
	MaxQuestions int
	TopicLimit   int // consumer-health topics requested; MaxResults when 0
}

// Deps are the components a Service drives. PubMed and Translator are
// required; a nil MedlinePlus disables consumer health and a nil
// Synthesizer skips the narrative.
type Deps struct {
	Translator  *translate.Translator
	PubMed      *pubmed.Client
	MedlinePlus *medline.Client
	Synthesizer *synthesis.Synthesizer
	Extractor   *clinical.Extractor
	Recommender *clinical.Recommender
	Reader      clinical.DocumentReader

	// Optional, reported by Status.
	Cache    *cache.Cache
	Limiters *ratelimit.Registry
	AI       bool
}

type Service struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

func New(deps Deps, opts Options, log *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FetchTimeout <= 0 || opts.FetchTimeout > opts.Timeout {
		opts.FetchTimeout = opts.Timeout * 4 / 5
	}
	if opts.NoteTimeout <= 0 {
		opts.NoteTimeout = DefaultNoteTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = clinical.DefaultMaxQuestions
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if deps.Extractor == nil {
		deps.Extractor = clinical.NewExtractor(nil, log)
	}
	if deps.Recommender == nil {
		deps.Recommender = clinical.NewRecommender(nil, log)
	}
	if deps.Reader == nil {
		deps.Reader = clinical.TextReader{}
	}
	return &Service{deps: deps, opts: opts, log: log, now: time.Now}
}

// SearchResponse is the outcome of one search. A failed source or step
// is reported in its error field while the rest of the response stands.
type SearchResponse struct {
	Request             model.SearchRequest    `json:"request"`
	PubMedQuery         *model.TranslatedQuery `json:"pubmed_query,omitempty"`
	ConsumerQuery       *model.TranslatedQuery `json:"consumer_health_query,omitempty"`
	Results             aggregate.ResultSet    `json:"results"`
	Synthesis           *model.SynthesisResult `json:"synthesis,omitempty"`
	SpellingCorrection  string                 `json:"spelling_correction,omitempty"`
	PubMedError         *model.Error           `json:"pubmed_error,omitempty"`
	ConsumerHealthError *model.Error           `json:"consumer_health_error,omitempty"`
	SynthesisError      *model.Error           `json:"synthesis_error,omitempty"`
	ElapsedMS           int64                  `json:"elapsed_ms"`
}

// Errors returns the non-nil portion errors in pipeline order.
func (r SearchResponse) Errors() []*model.Error {
	var out []*model.Error
	for _, e := range []*model.Error{r.PubMedError, r.ConsumerHealthError, r.SynthesisError} {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Search answers one request. Both sources run concurrently under the
// fetch timeout; whatever completed in time is aggregated and summarized
// within the rest of the request timeout.
func (s *Service) Search(ctx context.Context, req model.SearchRequest) SearchResponse {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	fetchCtx, cancelFetch := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancelFetch()

	resp := SearchResponse{Request: req}
	var (
		pages  []pubmed.ResultPage
		topics []medline.TopicPage
	)

	var g errgroup.Group
	g.Go(func() error {
		tq, err := s.deps.Translator.Translate(fetchCtx, req, model.SourcePubMed)
		if err != nil {
			resp.PubMedError = s.portionError(fetchCtx, s.opts.FetchTimeout, err, model.TranslationFailure, model.SourcePubMed, "translation")
			return nil
		}
		resp.PubMedQuery = &tq
		page, err := s.deps.PubMed.Page(fetchCtx, tq, req.FetchSize())
		if err != nil {
			resp.PubMedError = s.portionError(fetchCtx, s.opts.FetchTimeout, err, model.SourceUnavailable, model.SourcePubMed, "search")
		}
		if err == nil || len(page.Articles) > 0 {
			pages = append(pages, page)
		}
		return nil
	})
	if req.IncludeConsumerHealth {
		g.Go(func() error {
			if s.deps.MedlinePlus == nil {
				resp.ConsumerHealthError = &model.Error{
					Kind: model.SourceUnavailable, Source: model.SourceMedlinePlus, Step: "search",
					Message: "consumer health source is disabled",
				}
				return nil
			}
			tq, err := s.deps.Translator.Translate(fetchCtx, req, model.SourceMedlinePlus)
			if err != nil {
				resp.ConsumerHealthError = s.portionError(fetchCtx, s.opts.FetchTimeout, err, model.TranslationFailure, model.SourceMedlinePlus, "translation")
				return nil
			}
			resp.ConsumerQuery = &tq
			limit := s.opts.TopicLimit
			if limit <= 0 {
				limit = req.MaxResults
			}
			page, err := s.deps.MedlinePlus.Search(fetchCtx, tq, limit)
			if err != nil {
				resp.ConsumerHealthError = s.portionError(fetchCtx, s.opts.FetchTimeout, err, model.SourceUnavailable, model.SourceMedlinePlus, "search")
				return nil
			}
			topics = append(topics, page)
			resp.SpellingCorrection = page.SpellingCorrection
			return nil
		})
	}
	_ = g.Wait()

	resp.Results = aggregate.Aggregate(pages, topics, aggregate.FilterFor(req, s.now()))
	s.synthesize(ctx, &resp)

	resp.ElapsedMS = s.now().Sub(start).Milliseconds()
	s.log.Info("search complete",
		"question", req.Text,
		"articles", len(resp.Results.Articles),
		"topics", len(resp.Results.Topics),
		"errors", len(resp.Errors()),
		"elapsed_ms", resp.ElapsedMS)
	return resp
}

func (s *Service) synthesize(ctx context.Context, resp *SearchResponse) {
	rs := resp.Results
	if rs.Empty() {
		if resp.PubMedError != nil || resp.ConsumerHealthError != nil {
			return
		}
		text := synthesis.NoResultsText
		if rs.Filtered.Type > 0 {
			text = synthesis.NoTypeMatchText(resp.Request.ArticleTypes)
		}
		resp.Synthesis = &model.SynthesisResult{
			Text:      text,
			Segments:  []model.Segment{{Text: text}},
			Citations: []model.Citation{},
		}
		return
	}
	if s.deps.Synthesizer == nil {
		return
	}
	res, err := s.deps.Synthesizer.Synthesize(ctx, rs, resp.Request.Text)
	if err != nil {
		resp.SynthesisError = s.portionError(ctx, s.opts.Timeout, err, model.SynthesisFailure, "", "synthesis")
		return
	}
	resp.Synthesis = &res
}

// portionError classifies err for one source or step, noting when the
// deadline of ctx, limit after its start, caused it.
func (s *Service) portionError(ctx context.Context, limit time.Duration, err error, kind model.Kind, source model.SourceKind, step string) *model.Error {
	e := model.AsError(err, kind, source, step)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && e.Message == "" {
		cp := *e
		cp.Message = fmt.Sprintf("no response within %s", limit)
		e = &cp
	}
	s.log.Warn("search portion failed", "source", source, "step", step, "kind", e.Kind, "error", err)
	return e
}

// QuestionResult is the search run for one derived question.
type QuestionResult struct {
	Question clinical.Question `json:"question"`
	Search   SearchResponse    `json:"search"`
	Error    *model.Error      `json:"error,omitempty"`
}

// NoteResponse is the outcome of one note analysis.
type NoteResponse struct {
	Mode                clinical.Mode           `json:"mode"`
	Note                model.ClinicalNote      `json:"note"`
	Concerns            []classify.Concern      `json:"concerns"`
	Questions           []QuestionResult        `json:"questions"`
	Evidence            []clinical.Evidence     `json:"evidence"`
	Recommendations     model.RecommendationSet `json:"recommendations"`
	RecommendationError *model.Error            `json:"recommendation_error,omitempty"`
	ElapsedMS           int64                   `json:"elapsed_ms"`
}

// AnalyzeNote extracts a note, searches the literature for each derived
// question and assembles recommendations. An invalid input or a note with
// no usable section is an error; later failures are reported in the
// response.
func (s *Service) AnalyzeNote(ctx context.Context, in clinical.Input) (NoteResponse, error) {
	start := s.now()
	if err := in.Validate(); err != nil {
		return NoteResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.NoteTimeout)
	defer cancel()

	mode := in.Mode
	if mode == "" {
		mode = clinical.ModeRawText
	}
	resp := NoteResponse{Mode: mode}

	if mode == clinical.ModeStructured {
		resp.Note = *in.Note
	} else {
		text, err := in.ReadText(ctx, s.deps.Reader)
		if err != nil {
			return NoteResponse{}, model.AsError(err, model.ExtractionFailure, "", "document")
		}
		note, err := s.deps.Extractor.Extract(ctx, text)
		if err != nil {
			return NoteResponse{}, model.AsError(err, model.ExtractionFailure, "", "extraction")
		}
		resp.Note = note
	}

	resp.Concerns = clinical.Concerns(resp.Note, in.Focus)
	questions := clinical.Questions(resp.Note, resp.Concerns, s.opts.MaxQuestions)
	resp.Questions = make([]QuestionResult, len(questions))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, q := range questions {
		resp.Questions[i].Question = q
		g.Go(func() error {
			req, err := model.NewSearchRequest(q.Text, model.SearchOptions{})
			if err != nil {
				resp.Questions[i].Error = model.AsError(err, model.InvalidRequest, "", "question")
				return nil
			}
			resp.Questions[i].Search = s.Search(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	articles := make([][]model.Article, len(resp.Questions))
	for i, qr := range resp.Questions {
		articles[i] = qr.Search.Results.Articles
	}
	resp.Evidence = clinical.EvidenceList(questions, articles)

	set, err := s.deps.Recommender.Recommend(ctx, resp.Note, resp.Concerns, resp.Evidence)
	resp.Recommendations = set
	if err != nil {
		resp.RecommendationError = model.AsError(err, model.SynthesisFailure, "", "recommendations")
		s.log.Warn("recommendation generation failed", "error", err)
	}

	resp.ElapsedMS = s.now().Sub(start).Milliseconds()
	s.log.Info("note analyzed",
		"mode", mode,
		"concerns", len(resp.Concerns),
		"questions", len(questions),
		"evidence", len(resp.Evidence),
		"recommendations", resp.Recommendations.Len(),
		"elapsed_ms", resp.ElapsedMS)
	return resp, nil
}

// Status is a snapshot of the service's shared resources.
type Status struct {
	AI          bool               `json:"ai"`
	MedlinePlus bool               `json:"medlineplus"`
	Limits      []ratelimit.Budget `json:"rate_limits,omitempty"`
	Cache       *cache.Counters    `json:"cache,omitempty"`
}

func (s *Service) Status() Status {
	st := Status{AI: s.deps.AI, MedlinePlus: s.deps.MedlinePlus != nil}
	if s.deps.Limiters != nil {
		st.Limits = s.deps.Limiters.Budgets()
	}
	if s.deps.Cache != nil {
		c := s.deps.Cache.Counters()
		st.Cache = &c
	}
	return st
}

// Close releases the cache store.
func (s *Service) Close() error {
	if s.deps.Cache == nil {
		return nil
	}
	return s.deps.Cache.Close()
}
