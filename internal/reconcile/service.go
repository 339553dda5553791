// Package reconcile merges complete per-type snapshots into the graph store:
// fingerprint-based change detection for entities, append-only history for
// superseded states, soft deletes for entities gone upstream, and set diffing
// for trackable relationships.
package reconcile

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/store"
)

// EmptySnapshotPolicy decides what an empty incoming snapshot for an entity
// type means. Upstream delivering nothing is ambiguous: a genuinely empty
// state and a broken extraction look identical, so the caller must choose.
type EmptySnapshotPolicy string

const (
	// EmptySnapshotSkip leaves the type untouched for this cycle.
	EmptySnapshotSkip EmptySnapshotPolicy = "skip"
	// EmptySnapshotDelete soft-deletes every persisted entity of the type.
	EmptySnapshotDelete EmptySnapshotPolicy = "delete"
)

// Options tunes a reconciliation service.
type Options struct {
	// BatchSize caps write ops per atomic batch. Paired ops (a history
	// snapshot and the node write it guards) never split across batches.
	BatchSize int
	// MaxRetries bounds retry attempts for a transient batch failure.
	MaxRetries int
	// RetryBackoff is the base delay between retries; it doubles per attempt.
	RetryBackoff time.Duration
	// EmptySnapshotPolicy resolves empty per-type snapshots.
	EmptySnapshotPolicy EmptySnapshotPolicy
	// NaturalKeys maps an entity type to the attribute holding its alternate
	// natural key, used for edge endpoint resolution alongside primary ids.
	NaturalKeys map[string]string
	// Now supplies the cycle timestamp; defaults to time.Now.
	Now func() time.Time
}

// Service runs reconciliation cycles against a GraphStore.
type Service struct {
	store   store.GraphStore
	table   domain.TrackabilityTable
	options Options
}

// NewService creates a reconciliation service.
func NewService(graphStore store.GraphStore, table domain.TrackabilityTable, options Options) *Service {
	if options.BatchSize <= 0 {
		options.BatchSize = 200
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = 3
	}
	if options.RetryBackoff <= 0 {
		options.RetryBackoff = 500 * time.Millisecond
	}
	if options.EmptySnapshotPolicy == "" {
		options.EmptySnapshotPolicy = EmptySnapshotSkip
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	// Configuration sources may fold key case; match entity types
	// case-insensitively.
	naturalKeys := make(map[string]string, len(options.NaturalKeys))
	for entityType, attr := range options.NaturalKeys {
		naturalKeys[strings.ToLower(entityType)] = attr
	}
	options.NaturalKeys = naturalKeys
	return &Service{store: graphStore, table: table, options: options}
}

// TypeSummary counts entity transitions for one entity type in one cycle.
type TypeSummary struct {
	EntityType string `json:"entity_type"`
	New        int    `json:"new"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Deleted    int    `json:"deleted"`
	Skipped    int    `json:"skipped"`
	SkippedRun bool   `json:"skipped_run,omitempty"`
}

// RelationshipSummary counts relationship work in one cycle.
type RelationshipSummary struct {
	Added            int `json:"added"`
	Removed          int `json:"removed"`
	Unchanged        int `json:"unchanged"`
	FilteredDangling int `json:"filtered_dangling"`
	ImmutableSeen    int `json:"immutable_seen"`
	RemovalsHeld     int `json:"removals_held"`
}

// CycleSummary is the result of one full reconciliation cycle.
type CycleSummary struct {
	CycleID       uuid.UUID              `json:"cycle_id"`
	StartedAt     time.Time              `json:"started_at"`
	Duration      time.Duration          `json:"duration"`
	Entities      map[string]TypeSummary `json:"entities"`
	Relationships RelationshipSummary    `json:"relationships"`
}

// Run reconciles one complete snapshot. Entity types are processed
// concurrently since each touches only its own rows; relationships are
// reconciled strictly afterwards so endpoint resolution never sees
// half-committed entity state.
func (s *Service) Run(ctx context.Context, snapshot *domain.Snapshot) (CycleSummary, error) {
	started := time.Now()
	now := s.options.Now()
	summary := CycleSummary{
		CycleID:   uuid.New(),
		StartedAt: now,
		Entities:  make(map[string]TypeSummary),
	}

	entityTypes := snapshot.EntityTypes()
	sort.Strings(entityTypes)
	log.Printf("[RECONCILE] Cycle %s: %d entity types, %d edges", summary.CycleID, len(entityTypes), len(snapshot.Edges))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for _, entityType := range entityTypes {
		wg.Add(1)
		go func(entityType string) {
			defer wg.Done()
			typeSummary, err := s.reconcileEntityType(ctx, entityType, snapshot.Records[entityType], now)
			mu.Lock()
			defer mu.Unlock()
			summary.Entities[entityType] = typeSummary
			if err != nil {
				errs = append(errs, err)
			}
		}(entityType)
	}
	wg.Wait()

	if len(errs) > 0 {
		summary.Duration = time.Since(started)
		return summary, errors.Join(errs...)
	}

	// Types skipped under the empty-snapshot policy have an incoming edge set
	// that is just as untrustworthy as their record set; the relationship
	// diff must not turn that ambiguity into edge removals.
	skippedTypes := make(map[string]struct{})
	for entityType, typeSummary := range summary.Entities {
		if typeSummary.SkippedRun {
			skippedTypes[entityType] = struct{}{}
		}
	}

	relSummary, err := s.reconcileRelationships(ctx, snapshot.Edges, skippedTypes, now)
	summary.Relationships = relSummary
	summary.Duration = time.Since(started)
	if err != nil {
		return summary, err
	}

	log.Printf("[RECONCILE] Cycle %s complete in %s", summary.CycleID, summary.Duration)
	return summary, nil
}
