package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sharebeam/internal/server/database"
	"sharebeam/internal/server/history"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show downloads recorded by past shares",
		Long: `Show downloads recorded by past shares. Needs DATABASE_URL for the
download list and totals, REDIS_URL for per-name counters, or both.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "number of downloads to list, 0 for all")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" && cfg.RedisURL == "" {
		return errors.New("no history store configured: set DATABASE_URL or REDIS_URL")
	}
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if cfg.DatabaseURL != "" {
		repo, closeDB, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		stats, err := repo.GetStats(ctx)
		if err != nil {
			return err
		}
		downloads, err := repo.ListDownloads(ctx, limit)
		if err != nil {
			return err
		}
		printDownloads(out, stats, downloads)
	}

	if cfg.RedisURL != "" {
		cl, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer cl.Close()

		counts, err := history.NewRedisSink(cl, cfg.RedisEntryTTL).Counts(ctx)
		if err != nil {
			return err
		}
		printCounts(out, counts)
	}
	return nil
}

func printDownloads(out io.Writer, stats *database.Stats, downloads []*database.Download) {
	fmt.Fprintf(out, "%d downloads, %d completed, %d canceled, %d bytes served\n\n",
		stats.TotalDownloads, stats.CompletedDownloads, stats.CanceledDownloads, stats.BytesServed)
	if len(downloads) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tNAME\tSTATUS\tBYTES")
	for _, d := range downloads {
		status := "canceled"
		if d.Completed {
			status = "completed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n",
			d.StartedAt.Local().Format(time.DateTime), d.Name, status, d.BytesTransferred, d.TotalBytes)
	}
	w.Flush()
	fmt.Fprintln(out)
}

func printCounts(out io.Writer, counts map[string]int64) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMPLETED")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
	w.Flush()
}
