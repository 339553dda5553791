package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/store"
)

// reconcileEntityType classifies every incoming record of one type against the
// store's live index and applies the resulting transitions in atomic batches.
//
// Classification:
//
//	new       = incoming ids not in the index
//	updated   = shared ids whose fingerprints differ
//	unchanged = shared ids whose fingerprints match (zero writes)
//	deleted   = index ids absent from the snapshot
func (s *Service) reconcileEntityType(ctx context.Context, entityType string, records map[string]domain.EntityRecord, now time.Time) (TypeSummary, error) {
	summary := TypeSummary{EntityType: entityType}

	if len(records) == 0 && s.options.EmptySnapshotPolicy == EmptySnapshotSkip {
		// An empty snapshot is indistinguishable from a failed extraction;
		// mass-deleting on it requires an explicit opt-in.
		log.Printf("[RECONCILE] %s: empty snapshot, skipping (policy=%s)", entityType, s.options.EmptySnapshotPolicy)
		summary.SkippedRun = true
		return summary, nil
	}

	index, err := s.store.ReadCurrentIndex(ctx, entityType)
	if err != nil {
		return summary, fmt.Errorf("reconcile %s: %w", entityType, err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var groups [][]store.WriteOp
	for _, id := range ids {
		record := records[id]

		fingerprint, err := domain.Fingerprint(record.Attributes)
		if err != nil {
			// Fatal for this entity only; the cycle carries on.
			log.Printf("[RECONCILE] %s %s: fingerprint failed, skipping: %v", entityType, id, err)
			summary.Skipped++
			continue
		}

		entry, exists := index[id]
		switch {
		case !exists:
			groups = append(groups, []store.WriteOp{
				store.UpsertNode(domain.NewVersionedNode(record, fingerprint, now)),
			})
			summary.New++
		case entry.Fingerprint != fingerprint:
			groups = append(groups, snapshotBeforeChange(entry.Node, now,
				store.UpsertNode(entry.Node.Superseded(record, fingerprint, now))))
			summary.Updated++
		default:
			summary.Unchanged++
		}
	}

	deletedIDs := make([]string, 0)
	for id := range index {
		if _, present := records[id]; !present {
			deletedIDs = append(deletedIDs, id)
		}
	}
	sort.Strings(deletedIDs)
	for _, id := range deletedIDs {
		node := index[id].Node
		groups = append(groups, snapshotBeforeChange(node, now,
			store.SoftDeleteNode(node.SoftDeleted(now))))
		summary.Deleted++
	}

	if err := s.applyGrouped(ctx, groups); err != nil {
		return summary, fmt.Errorf("reconcile %s: %w", entityType, err)
	}

	log.Printf("[RECONCILE] %s: %d new, %d updated, %d unchanged, %d deleted, %d skipped",
		entityType, summary.New, summary.Updated, summary.Unchanged, summary.Deleted, summary.Skipped)
	return summary, nil
}

// snapshotBeforeChange captures the outgoing state of a node and orders the
// snapshot strictly before the write that supersedes it. Both ops travel in
// one group so a batch boundary can never separate them; the snapshot's
// ValidTo equals the ValidFrom the replacement receives.
func snapshotBeforeChange(node domain.VersionedNode, now time.Time, change store.WriteOp) []store.WriteOp {
	return []store.WriteOp{
		store.InsertSnapshot(domain.SnapshotOf(node, now)),
		change,
	}
}
