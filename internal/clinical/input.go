// Package clinical turns clinical notes into structured SOAP notes,
// research questions and evidence-backed recommendations.
package clinical

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// Mode selects how a note enters the analyzer.
type Mode string

const (
	ModeRawText    Mode = "raw-text"
	ModeDocument   Mode = "document"
	ModeStructured Mode = "structured"
)

// Input is one note to analyze. Exactly one of Text, Document or Note is
// used, chosen by Mode.
type Input struct {
	Mode     Mode                `json:"mode"`
	Text     string              `json:"text,omitempty"`
	Document []byte              `json:"-"`
	Filename string              `json:"filename,omitempty"`
	Note     *model.ClinicalNote `json:"note,omitempty"`
	Focus    []string            `json:"focus,omitempty"`
}

// DocumentReader extracts plain text from an uploaded document.
type DocumentReader interface {
	ReadText(ctx context.Context, filename string, data []byte) (string, error)
}

// TextReader reads plain-text documents. Other formats are rejected.
type TextReader struct{}

var textExtensions = map[string]bool{"": true, ".txt": true, ".text": true, ".md": true, ".soap": true}

func (TextReader) ReadText(_ context.Context, filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ctype := http.DetectContentType(data)
	switch {
	case ext == ".pdf" || bytes.HasPrefix(data, []byte("%PDF")):
		return "", &model.Error{Kind: model.ExtractionFailure, Step: "document", Message: "PDF text extraction is not supported; paste the note text instead"}
	case !textExtensions[ext] && !strings.HasPrefix(ctype, "text/"):
		return "", &model.Error{Kind: model.ExtractionFailure, Step: "document", Message: fmt.Sprintf("unsupported document type %q", ext)}
	case !utf8.Valid(data):
		return "", &model.Error{Kind: model.ExtractionFailure, Step: "document", Message: "document is not valid UTF-8 text"}
	}
	return string(data), nil
}

// ReadText resolves the note text of a raw-text or document input.
func (in Input) ReadText(ctx context.Context, reader DocumentReader) (string, error) {
	switch in.Mode {
	case ModeRawText, "":
		return in.Text, nil
	case ModeDocument:
		if reader == nil {
			reader = TextReader{}
		}
		return reader.ReadText(ctx, in.Filename, in.Document)
	default:
		return "", &model.Error{Kind: model.InvalidRequest, Step: "note", Message: fmt.Sprintf("mode %q carries no text", in.Mode)}
	}
}

// Validate checks that the input carries content for its mode.
func (in Input) Validate() error {
	switch in.Mode {
	case ModeRawText, "":
		if strings.TrimSpace(in.Text) == "" {
			return &model.Error{Kind: model.InvalidRequest, Step: "note", Message: "text is required"}
		}
	case ModeDocument:
		if len(in.Document) == 0 {
			return &model.Error{Kind: model.InvalidRequest, Step: "note", Message: "document is empty"}
		}
	case ModeStructured:
		if in.Note == nil || !in.Note.Usable() {
			return &model.Error{Kind: model.InvalidRequest, Step: "note", Message: "structured note has no SOAP section"}
		}
	default:
		return &model.Error{Kind: model.InvalidRequest, Step: "note", Message: fmt.Sprintf("unknown mode %q", in.Mode)}
	}
	return nil
}
