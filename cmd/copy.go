package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/copier"
	"github.com/hotmigrate/hotmigrate/internal/metastore"
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Bulk-copy origin tables into the target",
	Long: `Copy reads origin tables in batches, translates every value, and
upserts into the target. Re-running is safe; previously copied rows are
refreshed, never duplicated.

The first copy creates a migration run in phase seeded. Copying every
table marks the seed complete, which the cutover gate requires.`,
	Example: `  # Copy everything in dependency order
  migrate copy

  # Copy one table with a custom batch size
  migrate copy --table=contacts --batch-size=500`,
	Run: runCopy,
}

var (
	copyTable     string
	copyBatchSize int
)

func init() {
	rootCmd.AddCommand(copyCmd)
	copyCmd.Flags().StringVar(&copyTable, "table", "", "Copy a single table")
	copyCmd.Flags().IntVar(&copyBatchSize, "batch-size", copier.DefaultBatchSize, "Rows per batch")
}

func runCopy(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()

	origin, target, originDriver, targetDriver := openStores(ctx, cfg)
	defer origin.Close()
	defer target.Close()

	cat := loadCatalog(cfg)
	store := openMetastore(ctx, target)
	run := ensureRun(ctx, cfg.Validation.SampleSize, cfg.Validation.SampleSeed, store, origin, cat)

	batchSize := copyBatchSize
	if batchSize <= 0 {
		batchSize = cfg.Copy.BatchSize
	}
	c := copier.New(origin, target, originDriver, targetDriver, cat, copier.Config{
		BatchSize:   batchSize,
		Concurrency: cfg.Copy.Concurrency,
		Progress:    true,
	}, newLogger())

	if copyTable != "" {
		res, err := c.CopyTable(ctx, copyTable, batchSize)
		if err != nil {
			log.Fatalf("Copy failed: %v", err)
		}
		fmt.Printf("Copied %d rows into %s in %s (%d batches, %d retries)\n",
			res.RowsCopied, res.Table, res.Duration.Round(time.Millisecond), res.Batches, res.Retries)
		return
	}

	results, err := c.CopyAll(ctx)
	if err != nil {
		log.Fatalf("Copy failed: %v", err)
	}
	var total int64
	for _, res := range results {
		fmt.Printf("Copied %d rows into %s in %s\n",
			res.RowsCopied, res.Table, res.Duration.Round(time.Millisecond))
		total += res.RowsCopied
	}

	if err := store.MarkSeedCompleted(ctx, run.ID, time.Now().UTC()); err != nil {
		log.Fatalf("Failed to mark the seed complete: %v", err)
	}
	fmt.Printf("Seed complete: %d rows across %d tables (run %s)\n", total, len(results), run.ID)
}

// ensureRun returns the active run, creating one in phase seeded with an
// origin row-count snapshot when none exists.
func ensureRun(ctx context.Context, sampleSize int, sampleSeed int64,
	store metastore.Store, origin *sql.DB, cat *catalog.Catalog) *metastore.Run {

	run, err := store.ActiveRun(ctx)
	if err == nil {
		return run
	}
	if !errors.Is(err, metastore.ErrNoActiveRun) {
		log.Fatalf("Failed to look up the active run: %v", err)
	}

	counts := make(map[string]int64)
	for _, name := range cat.TableNames() {
		var n int64
		if err := origin.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&n); err != nil {
			log.Fatalf("Failed to snapshot row count for %s: %v", name, err)
		}
		counts[name] = n
	}

	if sampleSize <= 0 {
		sampleSize = 5
	}
	if sampleSeed == 0 {
		sampleSeed = time.Now().UnixNano()
	}
	run = &metastore.Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		RowCounts:  counts,
		BatchSize:  copyBatchSize,
		SampleSize: sampleSize,
		SampleSeed: sampleSeed,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatalf("Failed to create the migration run: %v", err)
	}
	fmt.Printf("Started migration run %s\n", run.ID)
	return run
}
