package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
	"github.com/hotmigrate/hotmigrate/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run consistency checks between the origin and the target",
	Long: `Validate compares the origin and target stores with six check
families: row counts, referential integrity, JSON structure, numeric
precision, business rules, and sampled row equality.

Exits 0 when every check passes and 1 otherwise. Reports are appended to
the migration history when a run is active.`,
	Example: `  # Full validation, human-readable report
  migrate validate

  # Row counts only (cheap enough to run on a schedule)
  migrate validate --quick

  # One table, JSON output for tooling
  migrate validate --table=contacts --json`,
	Run: runValidate,
}

var (
	validateQuick bool
	validateJSON  bool
	validateTable string
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateQuick, "quick", false, "Run row-count checks only")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Emit the report as JSON")
	validateCmd.Flags().StringVar(&validateTable, "table", "", "Validate a single table")
}

func runValidate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()

	origin, target, originDriver, targetDriver := openStores(ctx, cfg)
	defer origin.Close()
	defer target.Close()

	cat := loadCatalog(cfg)
	store := openMetastore(ctx, target)
	v := newValidator(ctx, cfg, store, origin, target, originDriver, targetDriver, cat)

	mode := validator.ModeFull
	if validateQuick {
		mode = validator.ModeQuick
	}

	report, err := v.Run(ctx, mode, validateTable)
	if err != nil {
		log.Fatalf("Validation failed to run: %v", err)
	}

	// Attach the report to the active run when one exists.
	if run, runErr := store.ActiveRun(ctx); runErr == nil {
		report.RunID = run.ID
		if payload, jsonErr := report.JSON(); jsonErr == nil {
			rec := metastore.ReportRecord{
				RunID:         run.ID,
				CreatedAt:     report.Timestamp,
				Mode:          string(report.Mode),
				OverallStatus: string(report.OverallStatus),
				Payload:       payload,
			}
			if appendErr := store.AppendReport(ctx, rec); appendErr != nil {
				log.Fatalf("Failed to record the report: %v", appendErr)
			}
		}
	} else if !errors.Is(runErr, metastore.ErrNoActiveRun) {
		log.Fatalf("Failed to look up the active run: %v", runErr)
	}

	if validateJSON {
		out, err := report.JSON()
		if err != nil {
			log.Fatalf("Failed to encode the report: %v", err)
		}
		fmt.Println(string(out))
	} else {
		fmt.Print(report.Render(originDriver, targetDriver))
	}

	if report.OverallStatus != validator.StatusPass {
		os.Exit(1)
	}
}
