package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/reflex/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pattern and turn-log statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	dbStats, err := a.db.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	snap := a.store.Snapshot()
	byCategory := map[model.Category]int{}
	for _, p := range snap.Patterns() {
		byCategory[p.Category]++
	}
	printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"database":        dbStats,
		"static_patterns": len(snap.Static()),
		"learned_loaded":  len(snap.Dynamic()),
		"by_category":     byCategory,
	})
}
