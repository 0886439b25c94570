package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/patterns"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import learned patterns from JSON",
		Long:  "Import learned patterns from JSON (file or stdin). Expects the format produced by export; existing patterns are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var entries []model.Pattern
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	cfg := loadConfig()
	static := patterns.New(nil)
	if cfg.StaticPatterns != "" {
		_, err = static.LoadStaticFile(cfg.StaticPatterns)
	} else {
		_, err = static.LoadDefaults()
	}
	if err != nil {
		exitErr("load static patterns", err)
	}

	s := openStore(cfg)
	report, err := s.Import(cmd.Context(), entries, static.Snapshot().Has)
	s.Close()
	if err != nil {
		exitErr("import", err)
	}

	for i, reason := range report.Skipped {
		log.Warn().Int("entry", i).Str("pattern", entries[i].Source).Str("reason", reason).Msg("import skipped entry")
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"skipped":%d}`+"\n", report.Imported, len(report.Skipped))
}
