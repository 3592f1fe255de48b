package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/clinical"
	"github.com/Nellodipolito/pubmed-search-api/internal/render"
)

var (
	flagStdin     bool
	flagFocus     []string
	flagNoteJSON  bool
	flagQuestions int
)

var noteCmd = &cobra.Command{
	Use:   "note [file]",
	Short: "Analyze a clinical note and assemble recommendations",
	Long: `Extract a SOAP note, search the literature for each derived question and
print guideline-backed recommendations with their evidence.

Focus areas (--focus) force a concern even when the note does not mention
it: cp, chest, fatigue, sob, dyspnea, htn, bp.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNote,
}

func init() {
	noteCmd.Flags().BoolVar(&flagStdin, "stdin", false, "read the note from standard input")
	noteCmd.Flags().StringSliceVar(&flagFocus, "focus", nil, "force a clinical focus area (repeatable)")
	noteCmd.Flags().BoolVar(&flagNoteJSON, "json", false, "print the raw response as JSON")
	noteCmd.Flags().IntVar(&flagQuestions, "questions", 0, "override pipeline.max_questions")
}

// noteInput reads the note named by args, or stdin when asked.
func noteInput(args []string, stdin io.Reader) (clinical.Input, error) {
	switch {
	case flagStdin && len(args) > 0:
		return clinical.Input{}, errors.New("use either a file or --stdin, not both")
	case flagStdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return clinical.Input{}, fmt.Errorf("reading stdin: %w", err)
		}
		return clinical.Input{Mode: clinical.ModeRawText, Text: string(data), Focus: flagFocus}, nil
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return clinical.Input{}, fmt.Errorf("reading note: %w", err)
		}
		return clinical.Input{
			Mode:     clinical.ModeDocument,
			Document: data,
			Filename: filepath.Base(args[0]),
			Focus:    flagFocus,
		}, nil
	default:
		return clinical.Input{}, errors.New("provide a note file or --stdin")
	}
}

func runNote(cmd *cobra.Command, args []string) error {
	in, err := noteInput(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if flagQuestions > 0 {
		cfg.Pipeline.MaxQuestions = flagQuestions
	}
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	resp, err := svc.AnalyzeNote(ctx, in)
	if err != nil {
		return err
	}
	if flagNoteJSON {
		return writeJSON(os.Stdout, resp)
	}
	fmt.Print(render.Note(resp))
	return nil
}
