package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/logging"
	"github.com/Nellodipolito/pubmed-search-api/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search and note APIs over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		srv := server.New(svc, cfg.Server, version, logger)
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		errc := make(chan error, 1)
		go func() { errc <- srv.Start() }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown failed", logging.Err(err))
			return err
		}
		return <-errc
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
}
