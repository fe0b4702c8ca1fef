package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/classifier/internal/core/config"
	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage/postgres"
)

var resetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Return failed records of both stages to the pending pool",
	Run:   runResetFailed,
}

func init() {
	rootCmd.AddCommand(resetFailedCmd)
}

func runResetFailed(cmd *cobra.Command, args []string) {
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

	repo := postgres.NewRecordRepo(db)
	for _, stage := range []domain.Stage{domain.StageOne, domain.StageTwo} {
		n, err := repo.ResetFailed(ctx, stage)
		if err != nil {
			slog.Error("Failed to reset records", "stage", stage, "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d records returned to pending\n", stage, n)
	}
}
