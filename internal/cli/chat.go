package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session",
		Long:  "Read one input per line and answer it within a single session. /reset clears the session, /stats prints statistics, /quit exits.",
		Run:   runChat,
	}

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	sess := a.engine.NewSession()
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "/quit", "/exit":
			return
		case "/reset":
			sess.Reset()
			fmt.Fprintln(out, "session reset")
		case "/stats":
			printJSON(out, a.engine.Statistics(sess))
		default:
			resp := sess.Respond(cmd.Context(), line)
			fmt.Fprintf(out, "[%s] %s\n", resp.Stage, resp.Text)
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		exitErr("read input", err)
	}
}
