package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newCacheCmd builds the cache management commands.
func newCacheCmd(v *viper.Viper) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the repository activity cache",
		Long: `Manage the cache of repository activity lookups.

Each lookup is kept for --cache-ttl (24h by default); rate-limited or failed
lookups are retried after --retry-ttl (1h by default).

Subcommands:
  path  - Print the cache file location
  stats - Show entry counts by status and freshness
  prune - Remove entries that are no longer fresh
  clear - Remove all entries`,
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the cache file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.CacheFile)
			return err
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, nil)
			if err != nil {
				return err
			}
			c := openCache(cfg, newLogger(cmd, cfg.Verbose))
			s := c.Stats()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Cache file: %s\n", cfg.CacheFile)
			fmt.Fprintf(w, "Entries:    %d (%d fresh, %d stale)\n", s.Total, s.Fresh, s.Stale)
			if !s.Oldest.IsZero() {
				fmt.Fprintf(w, "Oldest:     %s\n", s.Oldest.Local().Format(time.RFC3339))
			}
			if s.Total == 0 {
				return nil
			}

			statuses := lo.Keys(s.ByStatus)
			sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
			data := lo.Map(statuses, func(st types.FetchStatus, _ int) []string {
				return []string{string(st), fmt.Sprint(s.ByStatus[st])}
			})

			table := tablewriter.NewWriter(w)
			table.Header([]string{"Status", "Entries"})
			if err := table.Bulk(data); err != nil {
				return err
			}
			return table.Render()
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, nil)
			if err != nil {
				return err
			}
			n, err := openCache(cfg, newLogger(cmd, cfg.Verbose)).Prune()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale entries\n", n)
			return err
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, nil)
			if err != nil {
				return err
			}
			if err := openCache(cfg, newLogger(cmd, cfg.Verbose)).Clear(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", cfg.CacheFile)
			return err
		},
	}

	cacheCmd.AddCommand(pathCmd, statsCmd, pruneCmd, clearCmd)
	return cacheCmd
}
