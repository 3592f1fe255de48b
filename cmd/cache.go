package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nellodipolito/pubmed-search-api/internal/pipeline"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune the response cache",
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired entries from the response cache",
	Long: `Delete cached responses whose time-to-live has passed and reclaim disk space.

Expired entries are never served; pruning only frees the space they use.
Redis expires entries itself, so pruning a redis cache is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		defer store.Close()

		deleted, err := store.Prune(cmd.Context())
		if err != nil {
			return fmt.Errorf("pruning: %w", err)
		}

		if deleted == 0 {
			fmt.Println("Nothing to prune.")
		} else {
			fmt.Printf("Pruned %d expired response(s).\n", deleted)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		defer store.Close()

		st, err := store.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		fmt.Printf("Cache: %s\n", cacheLocation())
		fmt.Printf("Entries: %d (%d expired)\n", st.Entries, st.Expired)
		fmt.Printf("Size: %s\n", formatBytes(st.Size))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(pruneCmd)
	cacheCmd.AddCommand(statsCmd)
}

func cacheLocation() string {
	switch cfg.Cache.Driver {
	case "memory":
		return "memory"
	case "redis":
		return "redis://" + cfg.Cache.Redis.Addr
	default:
		return cfg.CacheDBPath()
	}
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
