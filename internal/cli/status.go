package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/classifier/internal/core/config"
	"github.com/vietddude/classifier/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-status record counts and active migration jobs",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	stats, err := postgres.NewRecordRepo(db).Statistics(ctx)
	if err != nil {
		slog.Error("Failed to query statistics", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tSTAGE 1\tSTAGE 2")
	_, _ = fmt.Fprintf(w, "pending\t%d\t%d\n", stats.Pending, stats.Stage2Pending)
	_, _ = fmt.Fprintf(w, "processing\t%d\t%d\n", stats.Processing, stats.Stage2Processing)
	_, _ = fmt.Fprintf(w, "classified\t%d\t%d\n", stats.Classified, stats.Stage2Classified)
	_, _ = fmt.Fprintf(w, "none_classified\t%d\t%d\n", stats.NoneClassified, stats.Stage2NoneClassified)
	_, _ = fmt.Fprintf(w, "failed\t%d\t%d\n", stats.Failed, stats.Stage2Failed)
	_, _ = fmt.Fprintf(w, "total\t%d\t\n", stats.Total)
	_ = w.Flush()

	job, err := postgres.NewJobRepo(db).ActiveJob(ctx)
	if err != nil {
		slog.Error("Failed to query migration jobs", "error", err)
		os.Exit(1)
	}
	if job != nil {
		fmt.Printf("\nActive migration %s: %d/%d migrated, %d duplicates, cursor %q\n",
			job.JobID, job.MigratedCount, job.TotalCount, job.DuplicateCount, job.LastCursor)
	}
}
