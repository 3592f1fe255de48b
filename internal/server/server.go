// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Nellodipolito/pubmed-search-api/internal/clinical"
	"github.com/Nellodipolito/pubmed-search-api/internal/config"
	"github.com/Nellodipolito/pubmed-search-api/internal/logging"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pipeline"
)

const (
	requestIDHeader = "X-Request-ID"
	maxUploadBytes  = 5 << 20
)

// Service is the pipeline surface the server drives.
type Service interface {
	Search(ctx context.Context, req model.SearchRequest) pipeline.SearchResponse
	AnalyzeNote(ctx context.Context, in clinical.Input) (pipeline.NoteResponse, error)
	Status() pipeline.Status
}

type Server struct {
	svc     Service
	cfg     config.ServerConfig
	version string
	log     *slog.Logger
	engine  *gin.Engine
	server  *http.Server
}

func New(svc Service, cfg config.ServerConfig, version string, log *slog.Logger) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = logging.Discard()
	}

	s := &Server{svc: svc, cfg: cfg, version: version, log: log, engine: gin.New()}
	s.engine.MaxMultipartMemory = maxUploadBytes
	s.registerMiddlewares()
	s.registerRoutes()
	return s
}

func (s *Server) registerMiddlewares() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestIDMiddleware())
	s.engine.Use(s.loggingMiddleware())
	s.engine.Use(s.corsMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote_addr", c.ClientIP(),
			"duration", time.Since(start))
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case slices.Contains(s.cfg.CORSOrigins, "*"):
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.cfg.CORSOrigins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleIndex)
	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/search", s.handleSearch)
		v1.POST("/notes/analyze", s.handleAnalyzeNote)
	}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// note analysis runs several searches
		WriteTimeout: 5 * time.Minute,
	}
	s.log.Info("starting HTTP server", "addr", addr, "version", s.version)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) error(c *gin.Context, code int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		var me *model.Error
		if errors.As(err, &me) && me.Message != "" && me.Err == nil {
			resp.Details = me.Message
		}
	}
	c.AbortWithStatusJSON(code, resp)
}

// failure maps a pipeline error onto a status code.
func (s *Server) failure(c *gin.Context, err error) {
	switch model.KindOf(err) {
	case model.InvalidRequest:
		s.error(c, http.StatusBadRequest, "invalid request", err)
	case model.ExtractionFailure:
		s.error(c, http.StatusUnprocessableEntity, "note extraction failed", err)
	case model.RateLimitExceeded:
		s.error(c, http.StatusTooManyRequests, "rate limit exceeded", err)
	default:
		s.log.Error("request failed", "request_id", c.GetString("request_id"), logging.Err(err))
		s.error(c, http.StatusInternalServerError, "internal server error", err)
	}
}
