package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/ui"
)

var showFull bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		ent, err := host.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(entityMap(ent))
			return nil
		}

		fmt.Println(ui.CategoryStyle.Render(ent.Title()))
		fmt.Println(ui.MutedStyle.Render(ent.ID()))
		fmt.Println()

		keys := make([]string, 0, len(ent.Header))
		for k := range ent.Header {
			if k == types.FieldID || k == types.FieldTitle {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-16s %s\n", k, formatHeaderValue(ent.Header[k]))
		}

		if strings.TrimSpace(ent.Body) != "" {
			fmt.Println()
			body := ui.RenderMarkdown(ent.Body)
			if !showFull {
				body = ui.ClipBody(body, ui.DefaultBodyLines, ui.DefaultContextLines)
			}
			fmt.Print(body)
		}

		if backs := host.Graph().Backlinks(ent.ID()); len(backs) > 0 {
			fmt.Println()
			fmt.Println(ui.CategoryStyle.Render("Backlinks"))
			for _, b := range backs {
				fmt.Printf("  %s%s\n", ui.TreeLast, b)
			}
		}
		return nil
	},
}

func formatHeaderValue(v any) string {
	switch tv := v.(type) {
	case []string:
		return strings.Join(tv, ", ")
	case []any:
		parts := make([]string, 0, len(tv))
		for _, p := range tv {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, tv[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}

func init() {
	showCmd.Flags().BoolVar(&showFull, "full", false, "show the complete body without clipping")
	rootCmd.AddCommand(showCmd)
}
