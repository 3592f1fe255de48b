package medline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/upstream"
)

const spanishDiabetes = `<?xml version="1.0" encoding="UTF-8"?>
<nlmSearchResult>
<term>diabetes</term>
<count>42</count>
<retstart>0</retstart>
<retmax>2</retmax>
<spellingCorrection>diabetes</spellingCorrection>
<list num="2" start="0" per="2">
<document rank="0" url="https://medlineplus.gov/spanish/diabetes.html">
<content name="title"><span class="qt0">Diabetes</span></content>
<content name="FullSummary">&lt;p&gt;La &lt;span class="qt0"&gt;diabetes&lt;/span&gt; es una enfermedad.&lt;/p&gt;&lt;script&gt;alert(1)&lt;/script&gt;&lt;ul&gt;&lt;li onclick="x()"&gt;Tipo 1&lt;/li&gt;&lt;li&gt;Tipo 2&lt;/li&gt;&lt;/ul&gt;&lt;h3 class="x"&gt;Causas&lt;/h3&gt;&lt;a href="javascript:evil()"&gt;enlace&lt;/a&gt;&lt;iframe src="x"&gt;frame&lt;/iframe&gt;</content>
<content name="snippet">La <span class="qt0">diabetes</span> es...</content>
<content name="mesh">Diabetes Mellitus</content>
<content name="groupName">Metabolic Problems</content>
<content name="groupName">Endocrine System</content>
</document>
<document rank="1" url="https://medlineplus.gov/spanish/diabetestype2.html">
<content name="title">Diabetes tipo 2</content>
<content name="FullSummary">&lt;style&gt;p{}&lt;/style&gt;&lt;p&gt;Tipo 2&lt;/p&gt;</content>
</document>
</list>
</nlmSearchResult>`

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	up := &upstream.Client{Source: model.SourceMedlinePlus, HTTP: srv.Client(), Interval: time.Millisecond}
	return New(Config{BaseURL: srv.URL, Tool: "medsearch", TTL: cache.TTLRange{Min: 12 * time.Hour, Max: 24 * time.Hour}}, up, nil, nil)
}

func query(t *testing.T, text, lang string) model.TranslatedQuery {
	req, err := model.NewSearchRequest(text, model.SearchOptions{Language: lang, IncludeConsumerHealth: true})
	if err != nil {
		t.Fatal(err)
	}
	return model.TranslatedQuery{Query: text, Source: model.SourceMedlinePlus, Request: req}
}

func TestSearchSpanishDiabetes(t *testing.T) {
	var db string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		db = r.URL.Query().Get("db")
		w.Write([]byte(spanishDiabetes))
	})

	page, err := c.Search(context.Background(), query(t, "diabetes", "es"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if db != "healthTopicsSpanish" {
		t.Errorf("expected Spanish database, got %q", db)
	}
	if page.Count != 42 || len(page.Topics) != 2 {
		t.Fatalf("unexpected page: count=%d topics=%d", page.Count, len(page.Topics))
	}
	if page.Attribution != model.MedlinePlusAttribution {
		t.Errorf("missing attribution")
	}
	if page.SpellingCorrection != "diabetes" {
		t.Errorf("unexpected spelling correction %q", page.SpellingCorrection)
	}

	top := page.Topics[0]
	if top.Title != "Diabetes" || top.Rank != 0 {
		t.Errorf("unexpected topic header: %+v", top)
	}
	if len(top.Groups) != 2 || top.MeshTerms[0] != "Diabetes Mellitus" {
		t.Errorf("unexpected lists: %+v", top)
	}
	if top.Snippets[0] != "La diabetes es..." {
		t.Errorf("expected highlight spans stripped, got %q", top.Snippets[0])
	}

	for _, topic := range page.Topics {
		assertSafe(t, topic.Summary)
	}
	want := "<p>La diabetes es una enfermedad.</p><ul><li>Tipo 1</li><li>Tipo 2</li></ul><h3>Causas</h3>enlace"
	if top.Summary != want {
		t.Errorf("summary:\n got %q\nwant %q", top.Summary, want)
	}
}

// assertSafe checks that only structural tags remain and no script survives.
func assertSafe(t *testing.T, summary string) {
	t.Helper()
	lower := strings.ToLower(summary)
	for _, bad := range []string{"<script", "alert(", "<style", "<iframe", "javascript:", "onclick", "<a ", "<span"} {
		if strings.Contains(lower, bad) {
			t.Errorf("summary contains %q: %s", bad, summary)
		}
	}
	allowedTags := map[string]bool{"p": true, "ul": true, "ol": true, "li": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}
	for i := strings.Index(summary, "<"); i >= 0; {
		end := strings.IndexByte(summary[i:], '>')
		if end < 0 {
			t.Fatalf("unterminated tag in %q", summary)
		}
		tag := strings.TrimPrefix(summary[i+1:i+end], "/")
		if !allowedTags[tag] {
			t.Errorf("disallowed tag %q in %s", tag, summary)
		}
		next := strings.Index(summary[i+end:], "<")
		if next < 0 {
			break
		}
		i += end + next
	}
}

func TestSearchCachesPayload(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(spanishDiabetes))
	})

	for _, text := range []string{"diabetes", "  diabetes "} {
		if _, err := c.Search(context.Background(), query(t, text, "es"), 2); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", calls.Load())
	}

	if _, err := c.Search(context.Background(), query(t, "diabetes", "en"), 2); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("language must be part of the key, got %d calls", calls.Load())
	}
}

func TestSearchUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Search(context.Background(), query(t, "diabetes", "en"), 2)
	if model.KindOf(err) != model.SourceUnavailable {
		t.Errorf("expected SourceUnavailable, got %v", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello", "hello"},
		{"attributes dropped", `<p class="a" style="b">x</p>`, "<p>x</p>"},
		{"unwrap", `<div><b>bold</b> text</div>`, "bold text"},
		{"script removed", `<p>a</p><script>steal()</script>`, "<p>a</p>"},
		{"nested heading", `<h2><em>Title</em></h2>`, "<h2>Title</h2>"},
		{"ordered list", `<ol><li>one</li></ol>`, "<ol><li>one</li></ol>"},
		{"escapes text", `<p>1 &lt; 2</p>`, "<p>1 &lt; 2</p>"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	got := StripTags(`<span class="qt0">Type</span> 2 <script>x()</script>diabetes`)
	if got != "Type 2 diabetes" {
		t.Errorf("got %q", got)
	}
}
