package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/mdvault/internal/atomicfile"
	"github.com/steveyegge/mdvault/internal/audit"
	"github.com/steveyegge/mdvault/internal/config"
	"github.com/steveyegge/mdvault/internal/debug"
	"github.com/steveyegge/mdvault/internal/eventbus"
	"github.com/steveyegge/mdvault/internal/idempotency"
	"github.com/steveyegge/mdvault/internal/ingress"
	"github.com/steveyegge/mdvault/internal/lockfile"
	"github.com/steveyegge/mdvault/internal/rollup"
	"github.com/steveyegge/mdvault/internal/scheduler"
	"github.com/steveyegge/mdvault/internal/syncer"
	"github.com/steveyegge/mdvault/internal/telemetry"
	"github.com/steveyegge/mdvault/internal/vault"
)

// drainDeadline bounds shutdown: buffered events get this long to
// flush before the process exits anyway.
const drainDeadline = 30 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the event pipeline: bus, scheduler, inbox watcher, sync",
	Long: `Start the long-running process. A singleton lock under
.state/daemon.lock prevents a second daemon on the same vault. SIGINT
drains the bus gracefully before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func runDaemon(ctx context.Context) error {
	settings := config.Load()
	stateDir := filepath.Join(vaultFlag, vault.StateDir)

	lock, err := lockfile.AcquireSingleton(filepath.Join(stateDir, "daemon.lock"))
	if err != nil {
		return fmt.Errorf("daemon already running? %w", err)
	}
	defer func() { _ = lockfile.ReleaseSingleton(lock) }()

	auditLog := audit.New(filepath.Join(vaultFlag, vault.ArtifactDir))

	gate, err := idempotency.Open(ctx, filepath.Join(stateDir, idempotencyDB))
	if err != nil {
		return err
	}
	defer func() { _ = gate.Close() }()

	bus := eventbus.New(eventbus.Options{
		Grace:         settings.BusGrace,
		HandlerBudget: settings.HandlerBudget,
		Retry: eventbus.RetryPolicy{
			Initial:     time.Second,
			Multiplier:  2,
			Jitter:      0.2,
			MaxAttempts: uint64(settings.MaxAttempts),
		},
		Gate: gate,
		DeadLetter: func(env *eventbus.Envelope, handlerID string, attempts uint64, err error) {
			auditLog.Op(env.TraceID, "bus.dead_letter", "")(audit.OutcomeError, err)
			debug.Logf("daemon: dead letter %s after %d attempts on %s: %v\n",
				env.EventID, attempts, handlerID, err)
		},
		OnDuplicate: func(env *eventbus.Envelope) {
			auditLog.Op(env.TraceID, "bus.duplicate", "")(audit.OutcomeDuplicate, nil)
		},
	})

	host, err := vault.Open(vaultFlag, vault.Options{
		Bus:              bus,
		Audit:            auditLog,
		LockTimeout:      settings.LockTimeout,
		NearDupThreshold: settings.NearDupThreshold,
	})
	if err != nil {
		return err
	}

	// Ingress: normalized external payloads become entity writes.
	bus.Subscribe(telemetry.WrapHandler(&ingress.ChatHandler{Host: host, Audit: auditLog}))
	bus.Subscribe(telemetry.WrapHandler(&ingress.DropHandler{Host: host, Audit: auditLog}))
	bus.Subscribe(telemetry.WrapHandler(&ingress.UpsertHandler{Host: host, Audit: auditLog}))

	sched := scheduler.New(bus)

	// Sync wiring is optional; the rest of the pipeline runs without it.
	var reconciler *syncer.Reconciler
	if settings.SyncEnabled {
		ledger, err := syncer.OpenLedger(ctx, filepath.Join(stateDir, syncLedgerDB))
		if err != nil {
			return err
		}
		defer func() { _ = ledger.Close() }()
		// Startup recovery: drop ledger rows whose entity vanished while
		// the daemon was down (deleted out-of-band, tombstones excepted).
		dropped, err := ledger.Reconcile(ctx, host.EntityExists)
		if err != nil {
			return err
		}
		if dropped > 0 {
			debug.Logf("daemon: dropped %d stale sync ledger rows\n", dropped)
		}
		cal, err := syncer.OpenFileCalendar(filepath.Join(stateDir, calendarDir), settings.SyncSource)
		if err != nil {
			return err
		}
		reconciler = syncer.NewReconciler(ledger, host, cal, auditLog, "local", settings.SyncSource)
		bus.Subscribe(telemetry.WrapHandler(&syncer.PushHandler{Reconciler: reconciler}))
		bus.Subscribe(telemetry.WrapHandler(&syncer.TombstoneHandler{Ledger: ledger}))

		if err := sched.Add(scheduler.Job{
			Key:    "sync.pull",
			Every:  settings.SyncInterval,
			Policy: scheduler.Coalesce,
		}); err != nil {
			return err
		}
	}

	if err := sched.Add(scheduler.Job{
		Key:     "rollup.daily",
		DailyAt: settings.RollupDailyAt,
		Zone:    settings.Timezone,
		Policy:  scheduler.Coalesce,
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{
		Key:     "rollup.weekly",
		DailyAt: settings.RollupWeeklyAt,
		Zone:    settings.Timezone,
		Policy:  scheduler.Coalesce,
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{
		Key:     "ttl.purge",
		DailyAt: settings.DedupPurgeAt,
		Zone:    settings.Timezone,
		Policy:  scheduler.Skip,
	}); err != nil {
		return err
	}

	bus.Subscribe(telemetry.WrapHandler(&jobDispatcher{
		host:       host,
		gate:       gate,
		reconciler: reconciler,
		settings:   settings,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if settings.InboxEnabled {
		watcher := ingress.NewWatcher(filepath.Join(vaultFlag, vault.InboxDir), ingress.NewNormalizer(bus)).
			WithSettle(settings.InboxSettle)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	debug.PrintNormal("vd daemon running on %s\n", vaultFlag)
	err = g.Wait()

	if derr := bus.Drain(drainDeadline); derr != nil {
		debug.Logf("daemon: drain: %v\n", derr)
	}
	if err == context.Canceled || err == nil {
		return nil
	}
	return err
}

// jobDispatcher maps job.due events to their actions. Running jobs
// through the bus gives them lane serialization, retry, and the
// dead-letter path for free.
type jobDispatcher struct {
	host       *vault.Host
	gate       *idempotency.Store
	reconciler *syncer.Reconciler
	settings   config.Settings
}

func (d *jobDispatcher) ID() string        { return "daemon.jobs" }
func (d *jobDispatcher) Handles() []string { return []string{eventbus.EventJobDue} }
func (d *jobDispatcher) Priority() int     { return 10 }

func (d *jobDispatcher) Handle(ctx context.Context, env *eventbus.Envelope) error {
	switch env.PayloadString("job") {
	case "sync.pull":
		if d.reconciler == nil {
			return nil
		}
		return d.reconciler.Sync(ctx)

	case "rollup.daily":
		date := time.Now().In(d.settings.Zone()).Format("2006-01-02")
		doc, err := rollup.New(d.host).Daily(ctx, date, d.settings.Timezone)
		if err != nil {
			return err
		}
		path := filepath.Join(vaultFlag, vault.ArtifactDir, "rollups", "daily-"+date+".md")
		return atomicfile.WriteFile(path, []byte(doc.Markdown()), 0o640)

	case "rollup.weekly":
		// Weeks are Monday-based, so the closing edition runs on Sunday.
		now := time.Now().In(d.settings.Zone())
		if now.Weekday() != time.Sunday {
			return nil
		}
		date := now.Format("2006-01-02")
		doc, err := rollup.New(d.host).Weekly(ctx, date, d.settings.Timezone)
		if err != nil {
			return err
		}
		path := filepath.Join(vaultFlag, vault.ArtifactDir, "rollups", "weekly-"+date+".md")
		return atomicfile.WriteFile(path, []byte(doc.Markdown()), 0o640)

	case "ttl.purge":
		cutoff := time.Now().Add(-d.settings.DedupTTL)
		purged, err := d.gate.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if purged > 0 {
			debug.Logf("daemon: purged %d expired fingerprints\n", purged)
			return d.gate.Vacuum(ctx)
		}
		return nil
	}
	return nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
