package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export learned patterns as JSON",
		Long:  "Export learned patterns as a JSON array. Filter by category with -c.",
		Run:   runExport,
	}

	cmd.Flags().StringP("category", "c", "", "Filter by category")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")
	var category model.Category
	if categoryStr != "" {
		c, err := normalize.ParseCategory(categoryStr)
		if err != nil {
			exitErr("export", err)
		}
		category = c
	}

	s := openStore(loadConfig())
	defer s.Close()

	all, err := s.ExportAll(cmd.Context(), category)
	if err != nil {
		exitErr("export", err)
	}
	if all == nil {
		all = []model.Pattern{}
	}
	printJSON(cmd.OutOrStdout(), all)
}
