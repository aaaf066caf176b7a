// Package config wraps a viper singleton over the vault's config.yaml
// plus VD_* environment overrides. Initialize once at startup; the
// typed getters are nil-safe so library callers that never initialize
// still get zero values instead of panics.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/mdvault/internal/lockfile"
)

// ConfigFileName is the per-vault configuration file, stored at the
// vault root next to the entity directories.
const ConfigFileName = "config.yaml"

var v *viper.Viper

// Initialize loads config.yaml from the vault root (missing file is
// fine, defaults apply) and binds VD_* environment variables. Keys use
// dots in config and underscores in the environment: sync.interval is
// VD_SYNC_INTERVAL.
func Initialize(vaultRoot string) error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	nv.SetEnvPrefix("VD")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	setDefaults(nv)

	if vaultRoot != "" {
		nv.SetConfigFile(filepath.Join(vaultRoot, ConfigFileName))
		if err := nv.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errorsAsNotExist(err, &notFound) {
				return fmt.Errorf("config: read %s: %w", ConfigFileName, err)
			}
		}
	}

	v = nv
	return nil
}

// errorsAsNotExist treats both viper's not-found error and a plain
// missing file as absence. SetConfigFile bypasses viper's search, so
// ReadInConfig surfaces the raw *PathError for a missing file.
func errorsAsNotExist(err error, notFound *viper.ConfigFileNotFoundError) bool {
	if os.IsNotExist(err) {
		return true
	}
	if nf, ok := err.(viper.ConfigFileNotFoundError); ok {
		*notFound = nf
		return true
	}
	return false
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("timezone", "UTC")
	nv.SetDefault("lock-timeout", lockfile.DefaultTimeout)

	nv.SetDefault("bus.grace", 5*time.Second)
	nv.SetDefault("bus.handler-budget", 60*time.Second)
	nv.SetDefault("bus.max-attempts", 3)

	nv.SetDefault("inbox.enabled", true)
	nv.SetDefault("inbox.settle", 200*time.Millisecond)

	nv.SetDefault("sync.enabled", false)
	nv.SetDefault("sync.interval", 5*time.Minute)
	nv.SetDefault("sync.source", "calendar")

	nv.SetDefault("rollup.daily-at", "23:55")
	nv.SetDefault("rollup.weekly-at", "23:55")

	nv.SetDefault("dedup.ttl", 30*24*time.Hour)
	nv.SetDefault("dedup.purge-at", "03:10")

	nv.SetDefault("linkgraph.near-dup-threshold", 0.85)
}

// GetFloat64 returns the float value for key, or 0 with no
// initialization.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetString returns the string value for key, or "" with no
// initialization.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns the bool value for key, or false with no
// initialization.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns the int value for key, or 0 with no initialization.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns the duration value for key, or 0 with no
// initialization.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a key in the live instance. Used by tests and by CLI
// flags that shadow config values.
func Set(key string, value any) {
	if v == nil {
		_ = Initialize("")
	}
	v.Set(key, value)
}

// Settings is the typed snapshot the daemon composition root consumes.
type Settings struct {
	Timezone    string
	LockTimeout time.Duration

	BusGrace      time.Duration
	HandlerBudget time.Duration
	MaxAttempts   int

	InboxEnabled bool
	InboxSettle  time.Duration

	SyncEnabled  bool
	SyncInterval time.Duration
	SyncSource   string

	RollupDailyAt  string
	RollupWeeklyAt string

	DedupTTL     time.Duration
	DedupPurgeAt string

	NearDupThreshold float64
}

// Load materializes the current configuration. Call after Initialize.
func Load() Settings {
	return Settings{
		Timezone:         GetString("timezone"),
		LockTimeout:      GetDuration("lock-timeout"),
		BusGrace:         GetDuration("bus.grace"),
		HandlerBudget:    GetDuration("bus.handler-budget"),
		MaxAttempts:      GetInt("bus.max-attempts"),
		InboxEnabled:     GetBool("inbox.enabled"),
		InboxSettle:      GetDuration("inbox.settle"),
		SyncEnabled:      GetBool("sync.enabled"),
		SyncInterval:     GetDuration("sync.interval"),
		SyncSource:       GetString("sync.source"),
		RollupDailyAt:    GetString("rollup.daily-at"),
		RollupWeeklyAt:   GetString("rollup.weekly-at"),
		DedupTTL:         GetDuration("dedup.ttl"),
		DedupPurgeAt:     GetString("dedup.purge-at"),
		NearDupThreshold: GetFloat64("linkgraph.near-dup-threshold"),
	}
}

// Zone resolves the configured timezone, falling back to UTC on an
// unknown name.
func (s Settings) Zone() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
