package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/ai"
	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
	"github.com/Nellodipolito/pubmed-search-api/internal/clinical"
	"github.com/Nellodipolito/pubmed-search-api/internal/config"
	"github.com/Nellodipolito/pubmed-search-api/internal/medline"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pubmed"
	"github.com/Nellodipolito/pubmed-search-api/internal/ratelimit"
	"github.com/Nellodipolito/pubmed-search-api/internal/synthesis"
	"github.com/Nellodipolito/pubmed-search-api/internal/translate"
	"github.com/Nellodipolito/pubmed-search-api/internal/upstream"
)

const upstreamTimeout = 30 * time.Second

// OpenStore opens the cache store selected by cache.driver.
func OpenStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		store, err := cache.OpenRedis(cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "", "sqlite":
		store, err := cache.OpenSQLite(cfg.CacheDBPath())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q (valid: memory, sqlite, redis)", cfg.Cache.Driver)
	}
}

// Open builds a Service from cfg. Without an AI key the translator falls
// back to keyword queries, extraction uses the section parser and
// recommendations come from the built-in rules only.
func Open(cfg *config.Config, userAgent string, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	c := cache.New(store, cache.Options{FlightTimeout: cfg.FlightTimeout(), Logger: log})

	var gen ai.Generator
	if cfg.AIEnabled() {
		gen, err = ai.New(cfg.AI, cfg.AIKey())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("configuring AI: %w", err)
		}
	} else {
		log.Info("no AI key configured, using keyword queries and rule-based recommendations")
	}

	limiters := ratelimit.NewRegistry()
	pubmedPolicy := ratelimit.PubMedPolicy
	if cfg.PubMed.APIKey != "" {
		pubmedPolicy = ratelimit.PubMedKeyedPolicy
	}
	httpClient := &http.Client{Timeout: upstreamTimeout}
	newUpstream := func(source model.SourceKind, p ratelimit.Policy) *upstream.Client {
		return &upstream.Client{
			Source:    source,
			HTTP:      httpClient,
			Limiter:   limiters.Register(string(source), p),
			UserAgent: userAgent,
			Logger:    log.With("source", source),
		}
	}

	deps := Deps{
		Translator: translate.New(gen, log),
		PubMed: pubmed.New(pubmed.Config{
			BaseURL:   cfg.PubMed.BaseURL,
			Tool:      cfg.PubMed.Tool,
			Email:     cfg.PubMed.Email,
			APIKey:    cfg.PubMed.APIKey,
			BatchSize: cfg.PubMed.BatchSize,
			SearchTTL: cfg.PubMed.SearchTTL.Range(),
			DetailTTL: cfg.PubMed.DetailTTL.Range(),
		}, newUpstream(model.SourcePubMed, pubmedPolicy), c, log),
		Extractor:   clinical.NewExtractor(gen, log),
		Recommender: clinical.NewRecommender(gen, log),
		Reader:      clinical.TextReader{},
		Cache:       c,
		Limiters:    limiters,
		AI:          gen != nil,
	}
	if cfg.MedlinePlus.Enabled {
		deps.MedlinePlus = medline.New(medline.Config{
			BaseURL: cfg.MedlinePlus.BaseURL,
			Tool:    cfg.PubMed.Tool,
			Email:   cfg.PubMed.Email,
			RetType: cfg.MedlinePlus.RetType,
			TTL:     cfg.MedlinePlus.TTL.Range(),
		}, newUpstream(model.SourceMedlinePlus, ratelimit.MedlinePlusPolicy), c, log)
	}
	if gen != nil {
		deps.Synthesizer = synthesis.New(gen, log)
	}

	return New(deps, Options{
		Timeout:      cfg.PipelineTimeout(),
		FetchTimeout: cfg.FetchTimeout(),
		NoteTimeout:  cfg.NoteTimeout(),
		Workers:      cfg.Workers(),
		MaxQuestions: cfg.MaxQuestions(),
		TopicLimit:   cfg.MedlinePlus.MaxResults,
	}, log), nil
}
