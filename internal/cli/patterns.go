package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/matcher"
	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Manage reflex patterns",
}

func init() {
	add := &cobra.Command{
		Use:   "add [pattern]",
		Short: "Add a learned pattern",
		Long:  `Add a learned pattern. "*" matches one or more words, "_" exactly one; the response refers to captures as {0}, {1}, ...`,
		Args:  cobra.MinimumNArgs(1),
		Run:   runPatternsAdd,
	}
	add.Flags().StringP("response", "r", "", "Response template (required)")
	add.Flags().StringP("category", "c", "general", "Category: social or general")
	add.MarkFlagRequired("response")

	rm := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a learned pattern",
		Args:  cobra.ExactArgs(1),
		Run:   runPatternsRm,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List patterns",
		Run:   runPatternsList,
	}
	list.Flags().String("origin", "", "Filter by origin: static or learned")
	list.Flags().StringP("category", "c", "", "Filter by category")
	list.Flags().IntP("limit", "l", 0, "Max results (0 = all)")

	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one pattern",
		Args:  cobra.ExactArgs(1),
		Run:   runPatternsShow,
	}

	match := &cobra.Command{
		Use:   "match [input]",
		Short: "Show ranked candidates for an input without answering",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPatternsMatch,
	}

	patternsCmd.AddCommand(add, rm, list, show, match)
	RootCmd.AddCommand(patternsCmd)
}

func runPatternsAdd(cmd *cobra.Command, args []string) {
	response, _ := cmd.Flags().GetString("response")
	categoryStr, _ := cmd.Flags().GetString("category")
	category, err := normalize.ParseCategory(categoryStr)
	if err != nil {
		exitErr("add", err)
	}

	a := openApp(cmd.Context())
	defer a.Close()

	p, err := a.engine.AddPattern(cmd.Context(), strings.Join(args, " "), response, category)
	if err != nil {
		exitErr("add", err)
	}
	printJSON(cmd.OutOrStdout(), p)
}

func runPatternsRm(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	if err := a.engine.RemovePattern(cmd.Context(), args[0]); err != nil {
		exitErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runPatternsList(cmd *cobra.Command, args []string) {
	origin, _ := cmd.Flags().GetString("origin")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	a := openApp(cmd.Context())
	defer a.Close()

	var out []model.Pattern
	for _, p := range a.store.Snapshot().Patterns() {
		if origin != "" && string(p.Origin) != origin {
			continue
		}
		if category != "" && string(p.Category) != category {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	if formatFlag == "text" {
		for _, p := range out {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", p.ID, p.Origin, p.Category, p.Source)
		}
		return
	}
	if out == nil {
		out = []model.Pattern{}
	}
	printJSON(cmd.OutOrStdout(), out)
}

func runPatternsShow(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	p, ok := a.store.Snapshot().Get(args[0])
	if !ok {
		exitErr("show", fmt.Errorf("pattern %s not found", args[0]))
	}
	printJSON(cmd.OutOrStdout(), p)
}

type matchResult struct {
	PatternID         string         `json:"pattern_id"`
	Pattern           string         `json:"pattern"`
	Category          model.Category `json:"category"`
	Origin            model.Origin   `json:"origin"`
	LiteralTokenRatio float64        `json:"literal_token_ratio"`
	Captures          []string       `json:"captures,omitempty"`
	Response          string         `json:"response"`
	FreshSession      gate.Decision  `json:"fresh_session"`
}

func runPatternsMatch(cmd *cobra.Command, args []string) {
	input := strings.Join(args, " ")

	a := openApp(cmd.Context())
	defer a.Close()

	g := gate.New(a.cfg.CompetingTopics)
	window := gate.NewContextWindow(a.cfg.ContextSize)
	cooldowns := gate.NewCooldowns(a.cfg.Limits())
	now := time.Now()

	candidates := a.engine.Matcher().Match(a.store.Snapshot(), normalize.Tokens(input))
	results := make([]matchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, matchResult{
			PatternID:         c.PatternID,
			Pattern:           c.Pattern.Source,
			Category:          c.Pattern.Category,
			Origin:            c.Pattern.Origin,
			LiteralTokenRatio: c.LiteralTokenRatio,
			Captures:          c.Captures,
			Response:          matcher.Render(c),
			FreshSession:      g.Admit(c.Pattern, *window, cooldowns.State(c.Pattern.Category), now),
		})
	}
	printJSON(cmd.OutOrStdout(), results)
}
