package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/atomicfile"
	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/rollup"
	"github.com/steveyegge/mdvault/internal/ui"
	"github.com/steveyegge/mdvault/internal/vault"
)

var (
	rollupDate  string
	rollupZone  string
	rollupWrite bool
)

var rollupCmd = &cobra.Command{
	Use:   "rollup <daily|weekly>",
	Short: "Build a daily or weekly rollup document",
	Long: `Aggregate the window's events, completions, work in progress, and
due tasks into a Markdown document. Windows are computed in the
configured timezone, so a DST transition day is 23 or 25 hours long.
With --write the document is also stored under artifacts/rollups/.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		zone := rollupZone
		if zone == "" {
			zone = config.Load().Timezone
		}
		date := rollupDate
		if date == "" {
			date = time.Now().In(config.Load().Zone()).Format("2006-01-02")
		}

		engine := rollup.New(host)
		var doc *rollup.Doc
		switch args[0] {
		case "daily":
			doc, err = engine.Daily(cmd.Context(), date, zone)
		case "weekly":
			doc, err = engine.Weekly(cmd.Context(), date, zone)
		default:
			return fmt.Errorf("rollup wants daily or weekly, got %q", args[0])
		}
		if err != nil {
			return err
		}

		md := doc.Markdown()
		if rollupWrite {
			name := fmt.Sprintf("%s-%s.md", args[0], date)
			path := filepath.Join(vaultFlag, vault.ArtifactDir, "rollups", name)
			if err := atomicfile.WriteFile(path, []byte(md), 0o640); err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "wrote %s\n", path)
			}
		}

		if jsonOutput {
			outputJSON(doc)
			return nil
		}
		fmt.Print(ui.RenderMarkdown(md))
		return nil
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupDate, "date", "", "anchor date YYYY-MM-DD (default today)")
	rollupCmd.Flags().StringVar(&rollupZone, "zone", "", "IANA timezone (default from config)")
	rollupCmd.Flags().BoolVar(&rollupWrite, "write", false, "persist under artifacts/rollups/")
	rootCmd.AddCommand(rollupCmd)
}
