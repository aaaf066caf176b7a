package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/vault"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create the vault directory layout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if err := vault.Init(root); err != nil {
			return err
		}

		// Seed a commented config.yaml so the knobs are discoverable.
		cfgPath := filepath.Join(root, config.ConfigFileName)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", config.ConfigFileName, err)
			}
		}

		if jsonOutput {
			outputJSON(map[string]string{"vault": root})
			return nil
		}
		fmt.Printf("Initialized vault at %s\n", root)
		return nil
	},
}

const defaultConfigYAML = `# vd vault configuration. Environment variables (VD_*) override.
# timezone: UTC
# sync:
#   enabled: false
#   interval: 5m
#   source: calendar
# rollup:
#   daily-at: "23:55"
# inbox:
#   enabled: true
`

func init() {
	rootCmd.AddCommand(initCmd)
}
