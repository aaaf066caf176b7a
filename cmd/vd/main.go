// Command vd is the vault CLI. Every write goes through the Host; the
// daemon subcommand runs the full event pipeline (bus, scheduler,
// inbox watcher, calendar sync).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/telemetry"
	"github.com/steveyegge/mdvault/internal/vault"
)

var (
	vaultFlag   string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "vd",
	Short: "Markdown vault: tasks, notes, and events as plain files",
	Long: `vd manages a vault of Markdown entities with YAML frontmatter.
Tasks, notes, and calendar events live as individual files; vd is the
single writer that validates, locks, and atomically persists them while
maintaining the link graph and the audit trail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		// init and version run before a vault exists.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return config.Initialize("")
		}

		root, err := resolveVaultRoot()
		if err != nil {
			return err
		}
		vaultFlag = root
		if err := config.Initialize(root); err != nil {
			return err
		}
		return telemetry.Init(cmd.Context(), "vd", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(cmd.Context())
	},
}

// resolveVaultRoot finds the vault: --vault flag, VD_VAULT env, then a
// walk up from the working directory looking for the vault layout.
func resolveVaultRoot() (string, error) {
	if vaultFlag != "" {
		return filepath.Clean(vaultFlag), nil
	}
	if env := os.Getenv("VD_VAULT"); env != "" {
		return filepath.Clean(env), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve vault: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		marker := filepath.Join(dir, vault.StateDir)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return dir, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return "", fmt.Errorf("no vault found (run 'vd init' or set --vault / VD_VAULT)")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "vault root directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
