package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/timeparsing"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

var (
	createDue      string
	createStart    string
	createEnd      string
	createTags     []string
	createBody     string
	createAssignee string
	createEstimate string
)

var createCmd = &cobra.Command{
	Use:   "create <task|note|event> <title>",
	Short: "Create an entity",
	Long: `Create a task, note, or event. Instant flags accept absolute
timestamps ("2025-10-08T17:00:00+00:00"), compact offsets ("+2d",
"-6h"), or natural language ("friday 17:00", "tomorrow at 9am").`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.Kind(args[0])
		if !kind.IsValid() {
			return fmt.Errorf("unknown kind %q (task, note, or event)", args[0])
		}
		title := strings.Join(args[1:], " ")

		header := types.Header{types.FieldTitle: title}
		if len(createTags) > 0 {
			header[types.FieldTags] = createTags
		}
		if createAssignee != "" {
			header[types.FieldAssignee] = createAssignee
		}
		if createEstimate != "" {
			header[types.FieldEstimate] = createEstimate
		}
		now := timeutil.Now()
		for _, f := range []struct {
			raw   string
			field string
		}{
			{createDue, types.FieldDueTS},
			{createStart, types.FieldStartTS},
			{createEnd, types.FieldEndTS},
		} {
			if f.raw == "" {
				continue
			}
			ts, err := timeparsing.ParseInstant(f.raw, now)
			if err != nil {
				return fmt.Errorf("%s: %w", f.field, err)
			}
			header.SetTime(f.field, ts)
		}

		host, err := openHost()
		if err != nil {
			return err
		}
		ent, err := host.Create(cmd.Context(), kind, header, createBody)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(entityMap(ent))
			return nil
		}
		fmt.Printf("Created %s\n", ent.ID())
		if due, err := ent.Header.Time(types.FieldDueTS); err == nil {
			fmt.Printf("  due %s\n", due.Format(time.RFC1123))
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createDue, "due", "", "due instant (absolute, compact, or natural)")
	createCmd.Flags().StringVar(&createStart, "start", "", "start instant")
	createCmd.Flags().StringVar(&createEnd, "end", "", "end instant (events)")
	createCmd.Flags().StringSliceVar(&createTags, "tags", nil, "comma-separated tags")
	createCmd.Flags().StringVar(&createBody, "body", "", "markdown body")
	createCmd.Flags().StringVar(&createAssignee, "assignee", "", "assignee (tasks)")
	createCmd.Flags().StringVar(&createEstimate, "estimate", "", "estimate, e.g. 90m or 3h (tasks)")
	rootCmd.AddCommand(createCmd)
}
