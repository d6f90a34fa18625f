package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate is a tool for zero-downtime migrations from SQLite to PostgreSQL.",
	Long: `Migrate moves a live application from a SQLite origin to a PostgreSQL
target without downtime: bulk copy, dual writes, continuous consistency
validation, and a phased cutover that can roll back at any point before
the origin is decommissioned.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
