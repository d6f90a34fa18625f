package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
	"github.com/hotmigrate/hotmigrate/internal/orchestrator"
	"github.com/hotmigrate/hotmigrate/internal/wizard"
)

var cutoverCmd = &cobra.Command{
	Use:   "cutover",
	Short: "Advance or roll back the migration phase",
	Long: `Cutover drives the migration state machine:

  seeded -> dual_write -> target_primary_fallback -> target_only -> decommissioned

Each advance is gated on fresh validation evidence and observation
windows. Rollback returns all traffic to the origin from any phase
before decommissioning; the origin is never modified.`,
	Example: `  # Advance to the next phase if its gate holds
  migrate cutover --advance

  # Abort the migration and return to the origin
  migrate cutover --rollback --cause="orphaned records found"`,
	Run: runCutover,
}

var (
	cutoverAdvance  bool
	cutoverRollback bool
	cutoverCause    string
	cutoverYes      bool
)

func init() {
	rootCmd.AddCommand(cutoverCmd)
	cutoverCmd.Flags().BoolVar(&cutoverAdvance, "advance", false, "Advance to the next phase")
	cutoverCmd.Flags().BoolVar(&cutoverRollback, "rollback", false, "Roll back to the origin")
	cutoverCmd.Flags().StringVar(&cutoverCause, "cause", "", "Reason recorded with a rollback")
	cutoverCmd.Flags().BoolVar(&cutoverYes, "yes", false, "Skip the confirmation prompt")
	cutoverCmd.MarkFlagsMutuallyExclusive("advance", "rollback")
}

func runCutover(cmd *cobra.Command, args []string) {
	if !cutoverAdvance && !cutoverRollback {
		_ = cmd.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := loadConfig()

	origin, target, originDriver, targetDriver := openStores(ctx, cfg)
	defer origin.Close()
	defer target.Close()

	cat := loadCatalog(cfg)
	store := openMetastore(ctx, target)
	v := newValidator(ctx, cfg, store, origin, target, originDriver, targetDriver, cat)

	o := orchestrator.New(store, v, orchestrator.Config{
		DualWriteWindow: cfg.Cutover.DualWriteWindow.Std(),
		QuickPasses:     cfg.Cutover.QuickPasses,
		FallbackWindow:  cfg.Cutover.FallbackWindow.Std(),
		MaxFallbackRate: cfg.Cutover.MaxFallbackRate,
		Retention:       cfg.Cutover.Retention.Std(),
		RTO:             cfg.Cutover.RTO.Std(),
	}, newLogger())

	if cutoverRollback {
		run, err := o.Rollback(ctx, cutoverCause)
		if err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Printf("Run %s rolled back; all traffic is on the origin.\n", run.ID)
		return
	}

	confirmed := cutoverYes
	run, err := store.ActiveRun(ctx)
	if err != nil {
		log.Fatalf("Failed to look up the active run: %v", err)
	}
	if run.Phase == metastore.PhaseTargetOnly && !confirmed {
		confirmed, err = wizard.RunConfirm(
			"Decommission the origin?",
			"This retires the SQLite origin permanently. Rollback is impossible afterwards.")
		if err != nil {
			log.Fatalf("Confirmation failed: %v", err)
		}
		if !confirmed {
			fmt.Println("Aborted.")
			os.Exit(1)
		}
	}

	advanced, err := o.Advance(ctx, confirmed)
	if err != nil {
		var gateErr *orchestrator.GateError
		if errors.As(err, &gateErr) {
			fmt.Fprintf(os.Stderr, "Gate refused: %v\n", gateErr)
			os.Exit(1)
		}
		log.Fatalf("Advance failed: %v", err)
	}
	fmt.Printf("Run %s advanced: %s -> %s\n", advanced.ID, run.Phase, advanced.Phase)
}
