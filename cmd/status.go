package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/hotmigrate/hotmigrate/internal/metastore"
	"github.com/hotmigrate/hotmigrate/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active migration run",
	Long: `Status prints the active run's phase, its checkpoint timeline, the
current traffic routing, and the latest validation verdict.`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()

	origin, target, _, _ := openStores(ctx, cfg)
	defer origin.Close()
	defer target.Close()

	store := openMetastore(ctx, target)
	run, err := store.ActiveRun(ctx)
	if errors.Is(err, metastore.ErrNoActiveRun) {
		fmt.Println("No active migration run. Start one with: migrate copy")
		return
	}
	if err != nil {
		log.Fatalf("Failed to look up the active run: %v", err)
	}

	fmt.Printf("Run %s, started %s\n", run.ID, run.StartedAt.Format(time.RFC3339))
	fmt.Printf("Phase: %s\n", run.Phase)
	if run.SeedCompletedAt != nil {
		fmt.Printf("Seed completed: %s\n", run.SeedCompletedAt.Format(time.RFC3339))
	} else {
		fmt.Println("Seed completed: no")
	}

	route := orchestrator.RouteFor(run.Phase)
	fmt.Printf("Routing: reads=%s writes=%s\n", readDesc(route), writeDesc(route))
	if run.TargetReads+run.FallbackReads > 0 {
		fmt.Printf("Reads observed: %d target, %d fallback\n", run.TargetReads, run.FallbackReads)
	}

	fmt.Println("\nCheckpoints:")
	for _, cp := range run.Checkpoints {
		line := fmt.Sprintf("  %s  entered %s", cp.Phase, cp.EnteredAt.Format(time.RFC3339))
		if cp.ExitedAt != nil {
			line += fmt.Sprintf(", exited %s", cp.ExitedAt.Format(time.RFC3339))
		}
		if cp.Outcome != "" {
			line += fmt.Sprintf(" (%s)", cp.Outcome)
		}
		fmt.Println(line)
	}

	rec, err := store.LatestReport(ctx, run.ID)
	if errors.Is(err, metastore.ErrReportNotFound) {
		fmt.Println("\nNo validation reports yet. Run: migrate validate")
		return
	}
	if err != nil {
		log.Fatalf("Failed to read the latest report: %v", err)
	}
	fmt.Printf("\nLatest validation: %s (%s) at %s\n",
		rec.OverallStatus, rec.Mode, rec.CreatedAt.Format(time.RFC3339))
}

func readDesc(route orchestrator.Route) string {
	switch {
	case route.ReadTarget && route.ReadFallback:
		return "target (origin fallback)"
	case route.ReadTarget:
		return "target"
	default:
		return "origin"
	}
}

func writeDesc(route orchestrator.Route) string {
	switch {
	case route.WriteOrigin && route.WriteTarget:
		return "origin+target"
	case route.WriteTarget:
		return "target"
	default:
		return "origin"
	}
}
