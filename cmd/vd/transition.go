package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/types"
	"github.com/steveyegge/mdvault/internal/ui"
)

var transitionReason string

var transitionCmd = &cobra.Command{
	Use:   "transition <id> <state>",
	Short: "Move a task through its state machine",
	Long: `Valid task states: todo, doing, review, done, blocked.
Blocking requires --reason; so does reopening a done task.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		ent, err := host.Transition(cmd.Context(), args[0], args[1], transitionReason)
		if err != nil {
			var fsmErr *types.FSMError
			if errors.As(err, &fsmErr) {
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("fsm_guard_failed:"), fsmErr.Reason)
			}
			return err
		}
		if jsonOutput {
			outputJSON(entityMap(ent))
			return nil
		}
		fmt.Printf("%s is now %s\n", ent.ID(), ent.State())
		return nil
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "reason for blocking or reopening")
	rootCmd.AddCommand(transitionCmd)
}
