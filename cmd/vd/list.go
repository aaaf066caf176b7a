package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/types"
)

var (
	listKind  string
	listState string
	listTag   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}

		var kind *types.Kind
		if listKind != "" {
			k := types.Kind(listKind)
			if !k.IsValid() {
				return cmd.Help()
			}
			kind = &k
		}
		filter := func(e *types.Entity) bool {
			if listState != "" && e.State() != listState {
				return false
			}
			if listTag != "" {
				found := false
				for _, t := range e.Header.StringSlice(types.FieldTags) {
					if t == listTag {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		}

		ents, err := host.List(cmd.Context(), kind, filter)
		if err != nil {
			return err
		}
		sort.Slice(ents, func(i, j int) bool { return ents[i].ID() < ents[j].ID() })

		if jsonOutput {
			out := make([]map[string]any, 0, len(ents))
			for _, e := range ents {
				out = append(out, entityMap(e))
			}
			outputJSON(out)
			return nil
		}
		for _, e := range ents {
			printEntity(e)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listKind, "kind", "", "filter by kind (task, note, event)")
	listCmd.Flags().StringVar(&listState, "state", "", "filter by state")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	rootCmd.AddCommand(listCmd)
}
