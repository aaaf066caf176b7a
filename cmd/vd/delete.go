package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an entity",
	Long: `Remove the entity file. Backlinks pointing at the id show up as
broken in 'vd doctor' until the id is re-created or the links are
edited away. Sync-mirrored entities are tombstoned in the ledger, not
deleted remotely.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		if err := host.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"deleted": args[0]})
			return nil
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <new title>",
	Short: "Retitle an entity, keeping the old id as an alias",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		title := ""
		for i, a := range args[1:] {
			if i > 0 {
				title += " "
			}
			title += a
		}
		ent, err := host.Rename(cmd.Context(), args[0], title)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"old": args[0], "new": ent.ID()})
			return nil
		}
		fmt.Printf("Renamed %s -> %s\n", args[0], ent.ID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renameCmd)
}
