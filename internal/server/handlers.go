package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Nellodipolito/pubmed-search-api/internal/clinical"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "medsearch",
		"version": s.version,
		"endpoints": gin.H{
			"GET /api/v1/health":         "service status and rate limit budgets",
			"POST /api/v1/search":        "search PubMed and MedlinePlus with a natural language question",
			"POST /api/v1/notes/analyze": "analyze a clinical note (JSON or multipart document)",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"service": s.svc.Status(),
	})
}

type searchBody struct {
	Text                  string   `json:"text"`
	MaxResults            int      `json:"max_results"`
	YearFilter            *string  `json:"year_filter"`
	ArticleTypes          []string `json:"article_types"`
	IncludeConsumerHealth bool     `json:"include_consumer_health"`
	Language              string   `json:"language"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req, err := model.NewSearchRequest(body.Text, model.SearchOptions{
		MaxResults:            body.MaxResults,
		YearFilter:            body.YearFilter,
		ArticleTypes:          body.ArticleTypes,
		IncludeConsumerHealth: body.IncludeConsumerHealth,
		Language:              body.Language,
	})
	if err != nil {
		s.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.Search(c.Request.Context(), req))
}

func (s *Server) handleAnalyzeNote(c *gin.Context) {
	in, err := s.noteInput(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	resp, err := s.svc.AnalyzeNote(c.Request.Context(), in)
	if err != nil {
		s.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// noteInput reads a multipart "document" upload or a JSON body.
func (s *Server) noteInput(c *gin.Context) (clinical.Input, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var in clinical.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			return clinical.Input{}, err
		}
		if in.Mode == "" && in.Note != nil {
			in.Mode = clinical.ModeStructured
		}
		return in, nil
	}

	fh, err := c.FormFile("document")
	if err != nil {
		return clinical.Input{}, err
	}
	f, err := fh.Open()
	if err != nil {
		return clinical.Input{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return clinical.Input{}, err
	}
	return clinical.Input{
		Mode:     clinical.ModeDocument,
		Document: data,
		Filename: fh.Filename,
		Focus:    c.PostFormArray("focus"),
	}, nil
}
