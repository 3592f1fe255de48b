// Package signal scores the strength of evidence an article carries.
package signal

import (
	"math"
	"strings"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pubmed"
)

// Input holds the data needed to score an article.
type Input struct {
	PublicationTypes []string
	Abstract         string
	Year             int
	Now              time.Time
}

// FromArticle builds an Input from an article.
func FromArticle(a model.Article, now time.Time) Input {
	y, _ := a.Year()
	return Input{PublicationTypes: a.PublicationTypes, Abstract: a.Abstract, Year: y, Now: now}
}

// Breakdown shows how each component contributed to the final score.
type Breakdown struct {
	Design  float64
	Recency float64
	Depth   float64
	Final   float64
}

const (
	weightDesign  = 0.55
	weightRecency = 0.25
	weightDepth   = 0.20
)

// Evidence levels, strongest first.
const (
	LevelA = "Level A"
	LevelB = "Level B"
	LevelC = "Level C"
)

// designRank orders study designs by strength of evidence.
var designRank = []struct {
	label string
	score float64
}{
	{"meta analysis", 1.0},
	{"systematic review", 0.95},
	{"practice guideline", 0.9},
	{"guideline", 0.9},
	{"randomized controlled trial", 0.85},
	{"clinical trial", 0.7},
	{"cohort study", 0.6},
	{"case control study", 0.55},
	{"comparative study", 0.5},
	{"observational study", 0.5},
	{"review", 0.4},
	{"case report", 0.2},
}

// Score computes an evidence score (0.0–10.0) for an article.
func Score(input Input) float64 {
	return ScoreWithBreakdown(input).Final
}

// ScoreWithBreakdown computes an evidence score with component details.
func ScoreWithBreakdown(input Input) Breakdown {
	b := Breakdown{
		Design:  designScore(input.PublicationTypes),
		Recency: recencyScore(input.Year, input.Now),
		Depth:   depthScore(input.Abstract),
	}
	raw := b.Design*weightDesign +
		b.Recency*weightRecency +
		b.Depth*weightDepth
	b.Final = math.Round(raw*100) / 10 // scale to 0.0–10.0
	return b
}

// Level maps the strongest study design among types to an evidence level.
func Level(types []string) string {
	switch s := designScore(types); {
	case s >= 0.85:
		return LevelA
	case s >= 0.5:
		return LevelB
	default:
		return LevelC
	}
}

// Strongest returns the best evidence level across articles, or "" for
// none.
func Strongest(articles []model.Article) string {
	if len(articles) == 0 {
		return ""
	}
	best := LevelC
	for _, a := range articles {
		if l := Level(a.PublicationTypes); l < best {
			best = l
		}
	}
	return best
}

// designScore returns the score of the strongest design among types.
// Unrecognized designs count as a generic journal article.
func designScore(types []string) float64 {
	best := 0.3
	for _, t := range types {
		n := pubmed.NormalizeType(t)
		for _, d := range designRank {
			if strings.Contains(n, d.label) && d.score > best {
				best = d.score
			}
		}
	}
	return best
}

// recencyScore decays linearly to 0.1 over fifteen years.
func recencyScore(year int, now time.Time) float64 {
	if year == 0 {
		return 0.0
	}
	if now.IsZero() {
		now = time.Now()
	}
	age := float64(now.Year() - year)
	if age < 0 {
		age = 0
	}
	return math.Max(0.1, 1.0-age*0.06)
}

// depthScore scores based on abstract word count.
func depthScore(abstract string) float64 {
	words := len(strings.Fields(abstract))
	switch {
	case words >= 200:
		return 1.0
	case words >= 80:
		return 0.6
	case words > 0:
		return 0.3
	default:
		return 0.0
	}
}
