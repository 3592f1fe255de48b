package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/config"
	"github.com/Nellodipolito/pubmed-search-api/internal/logging"
	"github.com/Nellodipolito/pubmed-search-api/internal/pipeline"
	"github.com/Nellodipolito/pubmed-search-api/internal/update"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig   string
	flagEnvFile  string
	flagLogLevel string
	flagCheck    bool
)

// Loaded by the root pre-run for every subcommand.
var (
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "medsearch",
	Short: "Evidence search and synthesis over PubMed and MedlinePlus",
	Long: `medsearch turns a clinical question into PubMed and MedlinePlus queries,
merges the results and writes a cited summary. It can also analyze a SOAP
note and assemble guideline-backed recommendations.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "load secrets from this file when present")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	versionCmd.Flags().BoolVar(&flagCheck, "check", false, "check GitHub for a newer release")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(openCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if flagEnvFile != "" {
		if err := godotenv.Load(flagEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", flagEnvFile, err)
		}
	}

	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	logger, logCloser, err = logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medsearch %s (commit: %s, built: %s)\n", version, commit, date)
		if !flagCheck {
			return
		}
		res := update.Checker{Repo: cfg.Update.Repo}.Check(cmd.Context(), version)
		if res == nil {
			fmt.Println("You are running the latest release.")
			return
		}
		fmt.Printf("A newer release is available: %s %s\n", res.LatestVersion, res.URL)
	},
}

func userAgent() string {
	return "medsearch/" + version
}

// openService wires the pipeline from the loaded config.
func openService() (*pipeline.Service, error) {
	svc, err := pipeline.Open(cfg, userAgent(), logger)
	if err != nil {
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}
	return svc, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
