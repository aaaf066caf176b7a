package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/timeparsing"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

var (
	updateSet    []string
	updateRemove []string
	updateBody   string
	updateDue    string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Merge header changes into an entity",
	Long: `Apply a header delta: --set key=value assigns, --remove key
drops a key, --due parses an instant. Changing state through --set
runs the task state machine guards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := parseSetFlags(updateSet)
		if err != nil {
			return err
		}
		for _, k := range updateRemove {
			delta[k] = nil
		}
		if updateDue != "" {
			ts, err := timeparsing.ParseInstant(updateDue, timeutil.Now())
			if err != nil {
				return fmt.Errorf("due: %w", err)
			}
			delta.SetTime(types.FieldDueTS, ts)
		}

		var body *string
		if cmd.Flags().Changed("body") {
			body = &updateBody
		}

		host, err := openHost()
		if err != nil {
			return err
		}
		ent, err := host.Update(cmd.Context(), args[0], delta, body)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entityMap(ent))
			return nil
		}
		fmt.Printf("Updated %s\n", ent.ID())
		return nil
	},
}

func init() {
	updateCmd.Flags().StringArrayVar(&updateSet, "set", nil, "header assignment key=value (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateRemove, "remove", nil, "header key to remove (repeatable)")
	updateCmd.Flags().StringVar(&updateBody, "body", "", "replace the markdown body")
	updateCmd.Flags().StringVar(&updateDue, "due", "", "due instant (absolute, compact, or natural)")
	rootCmd.AddCommand(updateCmd)
}
