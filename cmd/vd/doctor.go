package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/mdvault/internal/idempotency"
	"github.com/steveyegge/mdvault/internal/syncer"
	"github.com/steveyegge/mdvault/internal/ui"
	"github.com/steveyegge/mdvault/internal/vault"
)

// State database locations under {vault}/.state/.
const (
	idempotencyDB = "idempotency.db"
	syncLedgerDB  = "sync_ledger.db"
	calendarDir   = "calendar"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the vault: link graph, quarantine, state stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		rep := host.Graph().Diagnose()

		quarantined := 0
		qdir := filepath.Join(vaultFlag, vault.ArtifactDir, "quarantine")
		if entries, err := os.ReadDir(qdir); err == nil {
			quarantined = len(entries)
		}

		var fingerprints int64 = -1
		dbPath := filepath.Join(vaultFlag, vault.StateDir, idempotencyDB)
		if _, err := os.Stat(dbPath); err == nil {
			if store, err := idempotency.Open(ctx, dbPath); err == nil {
				fingerprints, _ = store.Count(ctx)
				_ = store.Close()
			}
		}

		var orphanedRows int64
		ledgerPath := filepath.Join(vaultFlag, vault.StateDir, syncLedgerDB)
		if _, err := os.Stat(ledgerPath); err == nil {
			ledger, err := syncer.OpenLedger(ctx, ledgerPath)
			if err != nil {
				return err
			}
			orphanedRows, err = ledger.Reconcile(ctx, host.EntityExists)
			_ = ledger.Close()
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"orphans":         rep.Orphans,
				"cycles":          rep.Cycles,
				"broken":          rep.Broken,
				"near_duplicates": rep.NearDuplicates,
				"quarantined":     quarantined,
				"fingerprints":    fingerprints,
				"ledger_orphans":  orphanedRows,
			})
			return nil
		}

		fmt.Println(ui.RenderCategory("Link graph"))
		printCheck(len(rep.Broken) == 0, fmt.Sprintf("broken references: %d", len(rep.Broken)))
		for from, targets := range rep.Broken {
			fmt.Printf("  %s%s -> %s\n", ui.TreeLast, from, strings.Join(targets, ", "))
		}
		printCheck(len(rep.Cycles) == 0, fmt.Sprintf("cycles: %d", len(rep.Cycles)))
		for _, cyc := range rep.Cycles {
			fmt.Printf("  %s%s\n", ui.TreeLast, strings.Join(cyc, " -> "))
		}
		printCheck(true, fmt.Sprintf("orphans (no links either way): %d", len(rep.Orphans)))
		if len(rep.NearDuplicates) > 0 {
			fmt.Println(ui.RenderWarnIcon() + " near-duplicate titles:")
			for _, pair := range rep.NearDuplicates {
				fmt.Printf("  %s%s ~ %s\n", ui.TreeLast, pair[0], pair[1])
			}
		}

		fmt.Println(ui.RenderCategory("State"))
		printCheck(quarantined == 0, fmt.Sprintf("quarantined payloads: %d", quarantined))
		if fingerprints >= 0 {
			printCheck(true, fmt.Sprintf("event fingerprints retained: %d", fingerprints))
		}
		printCheck(orphanedRows == 0, fmt.Sprintf("sync ledger rows tombstoned this run: %d", orphanedRows))
		return nil
	},
}

func printCheck(ok bool, msg string) {
	icon := ui.RenderPassIcon()
	if !ok {
		icon = ui.RenderWarnIcon()
	}
	fmt.Printf("%s %s\n", icon, msg)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
