package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/linkgraph"
	"github.com/steveyegge/mdvault/internal/ui"
)

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "Show links to and from an entity",
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

		outgoing := linkgraph.ExtractTargets(ent)
		backlinks := host.Graph().Backlinks(ent.ID())

		if jsonOutput {
			outputJSON(map[string]any{
				"id":        ent.ID(),
				"outgoing":  outgoing,
				"backlinks": backlinks,
			})
			return nil
		}

		fmt.Println(ui.CategoryStyle.Render("Outgoing"))
		if len(outgoing) == 0 {
			fmt.Println(ui.RenderMuted("  none"))
		}
		for _, t := range outgoing {
			fmt.Printf("  %s%s\n", ui.TreeLast, t)
		}
		fmt.Println(ui.CategoryStyle.Render("Backlinks"))
		if len(backlinks) == 0 {
			fmt.Println(ui.RenderMuted("  none"))
		}
		for _, b := range backlinks {
			fmt.Printf("  %s%s\n", ui.TreeLast, b)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linksCmd)
}
