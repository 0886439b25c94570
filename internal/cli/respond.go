package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "respond [input]",
		Short: "Answer one input",
		Long:  "Answer one input. Input can be positional args or piped via stdin.",
		Run:   runRespond,
	}

	RootCmd.AddCommand(cmd)
}

func runRespond(cmd *cobra.Command, args []string) {
	input := readInput(args)

	a := openApp(cmd.Context())
	defer a.Close()

	resp := a.engine.NewSession().Respond(cmd.Context(), input)
	if formatFlag == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
		return
	}
	printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"text":       resp.Text,
		"stage":      resp.Stage,
		"pattern_id": resp.PatternID,
		"latency_ms": float64(resp.Latency) / float64(time.Millisecond),
	})
}
