package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/browser"
	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/pipeline"
	"github.com/Nellodipolito/pubmed-search-api/internal/render"
)

var (
	flagMax      int
	flagYears    string
	flagTypes    []string
	flagConsumer bool
	flagLang     string
	flagJSON     bool
	flagOpen     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Search the literature and summarize the evidence",
	Long: `Translate a natural-language question into PubMed (and optionally
MedlinePlus) queries, merge the results and print a cited summary.

Examples:
  medsearch search "treatment of asthma in children"
  medsearch search --type "Randomized Controlled Trial" --years 10 "statins for primary prevention"
  medsearch search --consumer --lang es "dieta para la diabetes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&flagMax, "max", model.DefaultMaxResults, "maximum articles to show (1-100)")
	searchCmd.Flags().StringVar(&flagYears, "years", model.DefaultYearFilter, `only articles from the last N years ("" for all)`)
	searchCmd.Flags().StringSliceVar(&flagTypes, "type", nil, "keep only these publication types (repeatable)")
	searchCmd.Flags().BoolVar(&flagConsumer, "consumer", false, "include MedlinePlus health topics")
	searchCmd.Flags().StringVar(&flagLang, "lang", "en", "consumer health language (en or es)")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "print the raw response as JSON")
	searchCmd.Flags().BoolVar(&flagOpen, "open", false, "open the first cited item in the browser")
}

func searchRequest(args []string) (model.SearchRequest, error) {
	years := flagYears
	return model.NewSearchRequest(strings.Join(args, " "), model.SearchOptions{
		MaxResults:            flagMax,
		YearFilter:            &years,
		ArticleTypes:          flagTypes,
		IncludeConsumerHealth: flagConsumer,
		Language:              flagLang,
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	req, err := searchRequest(args)
	if err != nil {
		return err
	}
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	resp := svc.Search(ctx, req)
	if flagJSON {
		if err := writeJSON(os.Stdout, resp); err != nil {
			return err
		}
	} else {
		fmt.Print(render.Search(resp, time.Now()))
	}

	if flagOpen {
		if ref := firstReference(resp); ref != "" {
			if err := browser.Open(ref); err != nil {
				return fmt.Errorf("opening browser: %w", err)
			}
		}
	}
	if resp.Results.Empty() && resp.PubMedError != nil {
		return fmt.Errorf("search failed: %w", resp.PubMedError)
	}
	return nil
}

// firstReference is the first citation of the summary, else the first
// article or topic.
func firstReference(resp pipeline.SearchResponse) string {
	if s := resp.Synthesis; s != nil && len(s.Citations) > 0 {
		return s.Citations[0].URL
	}
	if len(resp.Results.Articles) > 0 {
		return resp.Results.Articles[0].PMID
	}
	if len(resp.Results.Topics) > 0 {
		return resp.Results.Topics[0].URL
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
