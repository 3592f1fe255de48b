package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/browser"
)

var openCmd = &cobra.Command{
	Use:   "open <pmid|url>",
	Short: "Open an article or health topic in the browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return browser.Open(args[0])
	},
}
