package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "turns [query]",
		Short: "List logged turns, newest first",
		Args:  cobra.MaximumNArgs(1),
		Run:   runTurns,
	}

	cmd.Flags().String("session", "", "Filter by session ID")
	cmd.Flags().String("stage", "", "Filter by stage: reflex, fallback, full")
	cmd.Flags().Duration("since", 0, "Only turns newer than this (e.g. 1h)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runTurns(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	stage, _ := cmd.Flags().GetString("stage")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	params := store.TurnsParams{
		SessionID: session,
		Stage:     model.Stage(stage),
		Limit:     limit,
	}
	if len(args) == 1 {
		params.Query = args[0]
	}
	if since > 0 {
		params.Since = time.Now().Add(-since)
	}

	s := openStore(loadConfig())
	defer s.Close()

	turns, err := s.Turns(cmd.Context(), params)
	if err != nil {
		exitErr("turns", err)
	}

	if formatFlag == "text" {
		for _, t := range turns {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%-8s\t%s\t%s\n", t.At.Local().Format(time.DateTime), t.Stage, t.Input, t.Response)
		}
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	printJSON(cmd.OutOrStdout(), turns)
}
