package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/store"
)

// reconcileRelationships diffs the incoming edge set against persisted state.
// Trackable edges are compared by identity and every transition is recorded
// as a ChangeEvent; immutable edges represent one-time historical facts and
// are only ever upserted, never diffed and never evented. Removals touching
// an entity type in skippedTypes are held: the incoming edges for that type
// are as absent as its records, so their disappearance proves nothing.
func (s *Service) reconcileRelationships(ctx context.Context, edges []domain.RelationshipEdge, skippedTypes map[string]struct{}, now time.Time) (RelationshipSummary, error) {
	summary := RelationshipSummary{}

	incomingTrackable := make(map[domain.EdgeIdentity]domain.RelationshipEdge)
	incomingImmutable := make(map[domain.EdgeIdentity]domain.RelationshipEdge)
	for _, edge := range edges {
		edge.Trackable = s.table.Trackable(edge.RelType)
		if edge.Trackable {
			incomingTrackable[edge.Identity()] = edge
		} else {
			incomingImmutable[edge.Identity()] = edge
		}
	}
	summary.ImmutableSeen = len(incomingImmutable)

	resolver, err := s.buildEndpointResolver(ctx, edges)
	if err != nil {
		return summary, err
	}

	existing, err := s.store.ReadEdgeSet(ctx, true)
	if err != nil {
		return summary, fmt.Errorf("reconcile relationships: %w", err)
	}

	var groups [][]store.WriteOp

	for _, identity := range sortedIdentities(incomingTrackable) {
		edge := incomingTrackable[identity]
		if _, present := existing[identity]; present {
			summary.Unchanged++
			continue
		}
		// An edge whose endpoint is missing from the store reflects upstream
		// referential incompleteness, not a real change: no write, no event.
		if !resolver.resolves(edge.FromType, edge.FromKey) || !resolver.resolves(edge.ToType, edge.ToKey) {
			log.Printf("[RECONCILE] Filtered dangling edge %s %s(%s)->%s(%s)",
				edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey)
			summary.FilteredDangling++
			continue
		}
		groups = append(groups, []store.WriteOp{
			store.UpsertEdge(edge),
			store.InsertEvent(domain.NewChangeEvent(domain.ChangeAdded, edge, now)),
		})
		summary.Added++
	}

	for _, identity := range sortedIdentities(existing) {
		if _, present := incomingTrackable[identity]; present {
			continue
		}
		edge := existing[identity]
		if _, from := skippedTypes[edge.FromType]; from {
			log.Printf("[RECONCILE] Holding removal of %s %s(%s)->%s(%s): %s snapshot skipped",
				edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey, edge.FromType)
			summary.RemovalsHeld++
			continue
		}
		if _, to := skippedTypes[edge.ToType]; to {
			log.Printf("[RECONCILE] Holding removal of %s %s(%s)->%s(%s): %s snapshot skipped",
				edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey, edge.ToType)
			summary.RemovalsHeld++
			continue
		}
		// Event first, deletion second: the audit record is durable before
		// the destructive write, and both sit in one atomic group.
		groups = append(groups, []store.WriteOp{
			store.InsertEvent(domain.NewChangeEvent(domain.ChangeRemoved, edge, now)),
			store.DeleteEdge(edge),
		})
		summary.Removed++
	}

	for _, identity := range sortedIdentities(incomingImmutable) {
		edge := incomingImmutable[identity]
		if !resolver.resolves(edge.FromType, edge.FromKey) || !resolver.resolves(edge.ToType, edge.ToKey) {
			log.Printf("[RECONCILE] Filtered dangling immutable edge %s %s(%s)->%s(%s)",
				edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey)
			summary.FilteredDangling++
			continue
		}
		groups = append(groups, []store.WriteOp{store.UpsertEdge(edge)})
	}

	if err := s.applyGrouped(ctx, groups); err != nil {
		return summary, fmt.Errorf("reconcile relationships: %w", err)
	}

	log.Printf("[RECONCILE] Relationships: %d added, %d removed, %d unchanged, %d filtered, %d held, %d immutable",
		summary.Added, summary.Removed, summary.Unchanged, summary.FilteredDangling, summary.RemovalsHeld, summary.ImmutableSeen)
	return summary, nil
}

// endpointResolver answers whether an endpoint identity refers to a live node.
// Primary ids and configured natural keys share one index per entity type;
// natural keys are normalized the same way the write path normalizes them.
type endpointResolver struct {
	keys map[string]map[string]struct{}
}

func (r *endpointResolver) resolves(entityType, key string) bool {
	byKey, ok := r.keys[entityType]
	if !ok {
		return false
	}
	if _, ok := byKey[key]; ok {
		return true
	}
	_, ok = byKey[domain.NormalizeKey(key)]
	return ok
}

// buildEndpointResolver reads the live index of every entity type referenced
// by an edge endpoint and indexes both primary ids and natural key values.
func (s *Service) buildEndpointResolver(ctx context.Context, edges []domain.RelationshipEdge) (*endpointResolver, error) {
	referenced := make(map[string]struct{})
	for _, edge := range edges {
		referenced[edge.FromType] = struct{}{}
		referenced[edge.ToType] = struct{}{}
	}

	resolver := &endpointResolver{keys: make(map[string]map[string]struct{}, len(referenced))}
	for entityType := range referenced {
		index, err := s.store.ReadCurrentIndex(ctx, entityType)
		if err != nil {
			return nil, fmt.Errorf("resolve endpoints for %s: %w", entityType, err)
		}

		keys := make(map[string]struct{}, len(index))
		naturalKeyAttr := s.options.NaturalKeys[strings.ToLower(entityType)]
		for id, entry := range index {
			keys[id] = struct{}{}
			if naturalKeyAttr == "" {
				continue
			}
			if value, ok := entry.Node.Attributes[naturalKeyAttr].(string); ok && value != "" {
				keys[domain.NormalizeKey(value)] = struct{}{}
			}
		}
		resolver.keys[entityType] = keys
	}
	return resolver, nil
}

func sortedIdentities(edges map[domain.EdgeIdentity]domain.RelationshipEdge) []domain.EdgeIdentity {
	identities := make([]domain.EdgeIdentity, 0, len(edges))
	for identity := range edges {
		identities = append(identities, identity)
	}
	sort.Slice(identities, func(i, j int) bool {
		a, b := identities[i], identities[j]
		if a.RelType != b.RelType {
			return a.RelType < b.RelType
		}
		if a.FromType != b.FromType {
			return a.FromType < b.FromType
		}
		if a.FromKey != b.FromKey {
			return a.FromKey < b.FromKey
		}
		if a.ToType != b.ToType {
			return a.ToType < b.ToType
		}
		return a.ToKey < b.ToKey
	})
	return identities
}
