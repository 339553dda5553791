package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/inboundfound/hubsync/internal/db"
	"github.com/inboundfound/hubsync/internal/reconcile"
	"github.com/inboundfound/hubsync/internal/transform"
)

// SyncConfig tunes one reconciliation run.
type SyncConfig struct {
	BatchSize           int
	MaxRetries          int
	RetryBackoff        time.Duration
	EmptySnapshotPolicy reconcile.EmptySnapshotPolicy
	ImmutableRelTypes   []string
	NaturalKeys         map[string]string
	DataDir             string
	MigrationsDir       string
	ReportPath          string
}

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Sync     SyncConfig
}

// Load reads config.yaml from configPath with SYNC_* environment overrides.
// A missing file is fine: defaults plus env vars apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Sync: SyncConfig{
			BatchSize:           200,
			MaxRetries:          3,
			RetryBackoff:        500 * time.Millisecond,
			EmptySnapshotPolicy: reconcile.EmptySnapshotSkip,
			ImmutableRelTypes:   transform.DefaultImmutableRelTypes,
			NaturalKeys:         transform.DefaultNaturalKeys,
			DataDir:             "data",
			MigrationsDir:       "migrations",
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("SYNC")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("sync.batch_size")
	v.BindEnv("sync.empty_snapshot_policy")
	v.BindEnv("sync.data_dir")
	v.BindEnv("sync.migrations_dir")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("sync.batch_size") {
		cfg.Sync.BatchSize = v.GetInt("sync.batch_size")
	}
	if v.IsSet("sync.max_retries") {
		cfg.Sync.MaxRetries = v.GetInt("sync.max_retries")
	}
	if v.IsSet("sync.retry_backoff") {
		cfg.Sync.RetryBackoff = v.GetDuration("sync.retry_backoff")
	}
	if v.IsSet("sync.empty_snapshot_policy") {
		policy := reconcile.EmptySnapshotPolicy(v.GetString("sync.empty_snapshot_policy"))
		if policy != reconcile.EmptySnapshotSkip && policy != reconcile.EmptySnapshotDelete {
			return cfg, fmt.Errorf("invalid sync.empty_snapshot_policy %q (want %q or %q)",
				policy, reconcile.EmptySnapshotSkip, reconcile.EmptySnapshotDelete)
		}
		cfg.Sync.EmptySnapshotPolicy = policy
	}
	if v.IsSet("sync.immutable_rel_types") {
		cfg.Sync.ImmutableRelTypes = v.GetStringSlice("sync.immutable_rel_types")
	}
	if v.IsSet("sync.natural_keys") {
		cfg.Sync.NaturalKeys = v.GetStringMapString("sync.natural_keys")
	}
	if v.IsSet("sync.data_dir") {
		cfg.Sync.DataDir = v.GetString("sync.data_dir")
	}
	if v.IsSet("sync.migrations_dir") {
		cfg.Sync.MigrationsDir = v.GetString("sync.migrations_dir")
	}
	if v.IsSet("sync.report_path") {
		cfg.Sync.ReportPath = v.GetString("sync.report_path")
	}

	return cfg, nil
}
