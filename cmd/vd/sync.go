package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/syncer"
	"github.com/steveyegge/mdvault/internal/vault"
)

var (
	syncPullOnly bool
	syncPushOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one pull/push cycle against the calendar collaborator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPullOnly && syncPushOnly {
			return fmt.Errorf("--pull-only and --push-only are mutually exclusive")
		}
		host, err := openHost()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		settings := config.Load()

		ledger, err := syncer.OpenLedger(ctx, filepath.Join(vaultFlag, vault.StateDir, syncLedgerDB))
		if err != nil {
			return err
		}
		defer func() { _ = ledger.Close() }()
		if _, err := ledger.Reconcile(ctx, host.EntityExists); err != nil {
			return err
		}

		cal, err := syncer.OpenFileCalendar(
			filepath.Join(vaultFlag, vault.StateDir, calendarDir), settings.SyncSource)
		if err != nil {
			return err
		}

		auditLog := audit.New(filepath.Join(vaultFlag, vault.ArtifactDir))
		rec := syncer.NewReconciler(ledger, host, cal, auditLog, "local", settings.SyncSource)

		switch {
		case syncPullOnly:
			err = rec.Pull(ctx)
		case syncPushOnly:
			err = rec.Push(ctx)
		default:
			err = rec.Sync(ctx)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"sync": "ok"})
			return nil
		}
		fmt.Println("sync complete")
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "import remote changes without pushing")
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "push local changes without pulling")
	rootCmd.AddCommand(syncCmd)
}
