package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload learned patterns",
		Run:   runReload,
	}

	cmd.Flags().String("addr", "", "Server address (default: listen_addr config)")

	RootCmd.AddCommand(cmd)
}

func runReload(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = loadConfig().ListenAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(addr, "/")+"/v1/patterns/reload", nil)
	if err != nil {
		exitErr("reload", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		exitErr("reload", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		exitErr("decode response", err)
	}
	if resp.StatusCode != http.StatusOK {
		exitErr("reload", fmt.Errorf("server returned %d: %v", resp.StatusCode, out["message"]))
	}
	printJSON(cmd.OutOrStdout(), out)
}
