// Package report summarizes reconciliation cycles and store contents, the
// read side consumed after a sync run.
package report

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/reconcile"
	"github.com/inboundfound/hubsync/internal/store"
)

// Service reads store-level aggregates for reporting.
type Service struct {
	reporter store.Reporter
}

// NewService creates a reporting service over the given reporter.
func NewService(reporter store.Reporter) *Service {
	return &Service{reporter: reporter}
}

// StoreReport captures the persisted state after a cycle: live and deleted
// node counts, history depth per type, and recent change events.
type StoreReport struct {
	GeneratedAt time.Time
	Totals      []store.NodeTotal
	Events      []domain.ChangeEvent
}

// Build assembles a report of store contents, including change events
// detected at or after since.
func (s *Service) Build(ctx context.Context, since time.Time) (StoreReport, error) {
	totals, err := s.reporter.NodeTotals(ctx)
	if err != nil {
		return StoreReport{}, fmt.Errorf("failed to read node totals: %w", err)
	}

	events, err := s.reporter.ChangeEventsSince(ctx, since)
	if err != nil {
		return StoreReport{}, fmt.Errorf("failed to read change events: %w", err)
	}

	return StoreReport{
		GeneratedAt: time.Now(),
		Totals:      totals,
		Events:      events,
	}, nil
}

// LogCycle writes a cycle summary to the log, one line per entity type.
func LogCycle(summary reconcile.CycleSummary) {
	entityTypes := make([]string, 0, len(summary.Entities))
	for entityType := range summary.Entities {
		entityTypes = append(entityTypes, entityType)
	}
	sort.Strings(entityTypes)

	log.Printf("[REPORT] Cycle %s finished in %s", summary.CycleID, summary.Duration)
	for _, entityType := range entityTypes {
		ts := summary.Entities[entityType]
		if ts.SkippedRun {
			log.Printf("[REPORT]   %-16s skipped (empty snapshot)", entityType)
			continue
		}
		log.Printf("[REPORT]   %-16s %d new, %d updated, %d unchanged, %d deleted, %d skipped",
			entityType, ts.New, ts.Updated, ts.Unchanged, ts.Deleted, ts.Skipped)
	}
	rel := summary.Relationships
	log.Printf("[REPORT]   relationships: %d added, %d removed, %d unchanged, %d filtered, %d held, %d immutable",
		rel.Added, rel.Removed, rel.Unchanged, rel.FilteredDangling, rel.RemovalsHeld, rel.ImmutableSeen)
}
