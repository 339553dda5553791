package store

import (
	"context"
	"errors"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
)

// ErrTransient marks a store failure that is safe to retry. Implementations
// wrap retryable errors with it so the engine can tell them apart from
// permanent ones via errors.Is.
var ErrTransient = errors.New("transient store failure")

// IndexEntry is one row of the current index: the fingerprint used for change
// detection plus the full node for history snapshotting.
type IndexEntry struct {
	Fingerprint string
	Node        domain.VersionedNode
}

// GraphStore is the persistence contract the reconciliation engine runs
// against. Any engine offering atomic batch writes and equality lookups by
// identity tuple can implement it; the reconciler never sees the storage
// format.
type GraphStore interface {
	// ReadCurrentIndex returns every current, non-deleted node of the given
	// entity type keyed by id. Soft-deleted nodes are excluded so they can
	// never be resurrected as unchanged.
	ReadCurrentIndex(ctx context.Context, entityType string) (map[string]IndexEntry, error)

	// ReadEdgeSet returns the persisted edges of one trackability class,
	// keyed by edge identity.
	ReadEdgeSet(ctx context.Context, trackable bool) (map[domain.EdgeIdentity]domain.RelationshipEdge, error)

	// ApplyBatch applies the ops atomically, all or nothing. Every op is a
	// keyed create-or-overwrite, so a failed batch may be retried verbatim.
	ApplyBatch(ctx context.Context, ops []WriteOp) error
}

// Reporter exposes the read side consumed by the reporting layer.
type Reporter interface {
	NodeTotals(ctx context.Context) ([]NodeTotal, error)
	ChangeEventsSince(ctx context.Context, since time.Time) ([]domain.ChangeEvent, error)
}

// NodeTotal aggregates store contents for one entity type.
type NodeTotal struct {
	EntityType string
	Live       int64
	Deleted    int64
	History    int64
}

// OpKind discriminates the write operations a batch can carry.
type OpKind string

const (
	OpUpsertNode     OpKind = "upsert_node"
	OpSoftDeleteNode OpKind = "soft_delete_node"
	OpInsertSnapshot OpKind = "insert_snapshot"
	OpUpsertEdge     OpKind = "upsert_edge"
	OpDeleteEdge     OpKind = "delete_edge"
	OpInsertEvent    OpKind = "insert_event"
)

// WriteOp is one operation inside an atomic batch. Exactly one payload field
// is set, matching Kind. Snapshot inserts are keyed by (type, id, validFrom)
// and event inserts by (identity, detectedAt), which keeps whole-batch retries
// from duplicating append-only records.
type WriteOp struct {
	Kind     OpKind
	Node     *domain.VersionedNode
	Snapshot *domain.HistorySnapshot
	Edge     *domain.RelationshipEdge
	Event    *domain.ChangeEvent
}

// UpsertNode creates or overwrites the current node for its identity.
func UpsertNode(node domain.VersionedNode) WriteOp {
	return WriteOp{Kind: OpUpsertNode, Node: &node}
}

// SoftDeleteNode writes the node's terminal deleted state in place.
func SoftDeleteNode(node domain.VersionedNode) WriteOp {
	return WriteOp{Kind: OpSoftDeleteNode, Node: &node}
}

// InsertSnapshot appends a history snapshot.
func InsertSnapshot(snapshot domain.HistorySnapshot) WriteOp {
	return WriteOp{Kind: OpInsertSnapshot, Snapshot: &snapshot}
}

// UpsertEdge creates the edge if absent, otherwise overwrites its attributes.
func UpsertEdge(edge domain.RelationshipEdge) WriteOp {
	return WriteOp{Kind: OpUpsertEdge, Edge: &edge}
}

// DeleteEdge removes the edge with the given identity.
func DeleteEdge(edge domain.RelationshipEdge) WriteOp {
	return WriteOp{Kind: OpDeleteEdge, Edge: &edge}
}

// InsertEvent appends a relationship change event.
func InsertEvent(event domain.ChangeEvent) WriteOp {
	return WriteOp{Kind: OpInsertEvent, Event: &event}
}
