package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/inboundfound/hubsync/internal/config"
	"github.com/inboundfound/hubsync/internal/db"
	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/reconcile"
	"github.com/inboundfound/hubsync/internal/report"
	"github.com/inboundfound/hubsync/internal/store"
	"github.com/inboundfound/hubsync/internal/transform"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	dataDir := flag.String("data", "", "override snapshot data directory")
	migrationsDir := flag.String("migrations", "", "override schema migrations directory")
	reportPath := flag.String("report", "", "write an xlsx report to this path")
	dryRun := flag.Bool("dry-run", false, "reconcile against an in-memory store, leaving the database untouched")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.Sync.DataDir = *dataDir
	}
	if *migrationsDir != "" {
		cfg.Sync.MigrationsDir = *migrationsDir
	}
	if *reportPath != "" {
		cfg.Sync.ReportPath = *reportPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abort between batch boundaries on SIGINT/SIGTERM; a partially applied
	// cycle is safe to re-run since batches are idempotent.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutdown requested, aborting at next batch boundary")
		cancel()
	}()

	if err := run(ctx, cfg, *dryRun); err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, dryRun bool) error {
	var (
		graphStore store.GraphStore
		reporter   store.Reporter
	)
	if dryRun {
		log.Println("Dry run: using in-memory store")
		memory := store.NewMemoryStore()
		graphStore, reporter = memory, memory
	} else {
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()

		if err := db.RunMigrations(cfg.Database, cfg.Sync.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		graphStore = store.NewPostgresStore(conn)
		reporter = store.NewPostgresReporter(conn)
	}

	sourceData, err := loadSourceData(cfg.Sync.DataDir)
	if err != nil {
		return err
	}

	table := domain.NewTrackabilityTable(cfg.Sync.ImmutableRelTypes)
	transformer := transform.NewTransformer(table, transform.NewIDGenerator("form-submission"))
	snapshot := transformer.Transform(sourceData)

	service := reconcile.NewService(graphStore, table, reconcile.Options{
		BatchSize:           cfg.Sync.BatchSize,
		MaxRetries:          cfg.Sync.MaxRetries,
		RetryBackoff:        cfg.Sync.RetryBackoff,
		EmptySnapshotPolicy: cfg.Sync.EmptySnapshotPolicy,
		NaturalKeys:         cfg.Sync.NaturalKeys,
	})

	summary, err := service.Run(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	report.LogCycle(summary)

	reportService := report.NewService(reporter)
	storeReport, err := reportService.Build(ctx, summary.StartedAt)
	if err != nil {
		return err
	}
	for _, total := range storeReport.Totals {
		log.Printf("[REPORT]   store %-16s %d live, %d deleted, %d history",
			total.EntityType, total.Live, total.Deleted, total.History)
	}

	if cfg.Sync.ReportPath != "" {
		if err := report.ExportWorkbook(cfg.Sync.ReportPath, summary, storeReport); err != nil {
			return fmt.Errorf("failed to export report: %w", err)
		}
		log.Printf("[REPORT] Workbook written to %s", cfg.Sync.ReportPath)
	}

	return nil
}

// loadSourceData reads the per-collection snapshot files produced by the
// extraction stage. A missing file means an empty collection; the
// empty-snapshot policy decides what that implies downstream.
func loadSourceData(dataDir string) (transform.SourceData, error) {
	var data transform.SourceData

	if err := readJSONFile(filepath.Join(dataDir, "contacts.json"), &data.Contacts); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "companies.json"), &data.Companies); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "deals.json"), &data.Deals); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "engagements.json"), &data.Engagements); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "users.json"), &data.Users); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "email_events.json"), &data.EmailEvents); err != nil {
		return data, err
	}
	if err := readJSONFile(filepath.Join(dataDir, "form_submissions.json"), &data.FormSubmissions); err != nil {
		return data, err
	}
	return data, nil
}

func readJSONFile(path string, out any) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Snapshot file %s not found, treating as empty", path)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
