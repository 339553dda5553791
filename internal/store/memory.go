package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
)

type nodeKey struct {
	entityType string
	id         string
}

type snapshotKey struct {
	entityType string
	id         string
	validFrom  time.Time
}

type eventKey struct {
	identity   domain.EdgeIdentity
	kind       domain.ChangeKind
	detectedAt time.Time
}

// MemoryStore is a mutex-guarded in-process GraphStore with all-or-nothing
// batch semantics. It backs the engine tests and dry runs; the Postgres store
// is the production implementation.
type MemoryStore struct {
	mu        sync.Mutex
	nodes     map[nodeKey]domain.VersionedNode
	snapshots map[snapshotKey]domain.HistorySnapshot
	edges     map[domain.EdgeIdentity]domain.RelationshipEdge
	events    map[eventKey]domain.ChangeEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:     make(map[nodeKey]domain.VersionedNode),
		snapshots: make(map[snapshotKey]domain.HistorySnapshot),
		edges:     make(map[domain.EdgeIdentity]domain.RelationshipEdge),
		events:    make(map[eventKey]domain.ChangeEvent),
	}
}

// ReadCurrentIndex returns the live nodes of one entity type keyed by id.
func (m *MemoryStore) ReadCurrentIndex(ctx context.Context, entityType string) (map[string]IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[string]IndexEntry)
	for key, node := range m.nodes {
		if key.entityType != entityType {
			continue
		}
		if !node.IsCurrent || node.IsDeleted {
			continue
		}
		index[key.id] = IndexEntry{Fingerprint: node.Fingerprint, Node: node}
	}
	return index, nil
}

// ReadEdgeSet returns the persisted edges of one trackability class.
func (m *MemoryStore) ReadEdgeSet(ctx context.Context, trackable bool) (map[domain.EdgeIdentity]domain.RelationshipEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges := make(map[domain.EdgeIdentity]domain.RelationshipEdge)
	for identity, edge := range m.edges {
		if edge.Trackable == trackable {
			edges[identity] = edge
		}
	}
	return edges, nil
}

// ApplyBatch validates every op first and only then mutates state, so a bad
// batch leaves the store untouched.
func (m *MemoryStore) ApplyBatch(ctx context.Context, ops []WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, op := range ops {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case OpUpsertNode, OpSoftDeleteNode:
			node := *op.Node
			m.nodes[nodeKey{node.EntityType, node.ID}] = node
		case OpInsertSnapshot:
			snapshot := *op.Snapshot
			m.snapshots[snapshotKey{snapshot.EntityType, snapshot.ID, snapshot.ValidFrom}] = snapshot
		case OpUpsertEdge:
			edge := *op.Edge
			m.edges[edge.Identity()] = edge
		case OpDeleteEdge:
			delete(m.edges, op.Edge.Identity())
		case OpInsertEvent:
			event := *op.Event
			m.events[eventKey{eventIdentity(event), event.ChangeKind, event.DetectedAt}] = event
		}
	}
	return nil
}

func validateOp(op WriteOp) error {
	switch op.Kind {
	case OpUpsertNode, OpSoftDeleteNode:
		if op.Node == nil {
			return fmt.Errorf("%s op without node", op.Kind)
		}
	case OpInsertSnapshot:
		if op.Snapshot == nil {
			return fmt.Errorf("%s op without snapshot", op.Kind)
		}
	case OpUpsertEdge, OpDeleteEdge:
		if op.Edge == nil {
			return fmt.Errorf("%s op without edge", op.Kind)
		}
	case OpInsertEvent:
		if op.Event == nil {
			return fmt.Errorf("%s op without event", op.Kind)
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

func eventIdentity(event domain.ChangeEvent) domain.EdgeIdentity {
	return domain.EdgeIdentity{
		RelType:  event.RelType,
		FromType: event.FromType,
		FromKey:  event.FromKey,
		ToType:   event.ToType,
		ToKey:    event.ToKey,
	}
}

// Node returns a persisted node regardless of its lifecycle state.
func (m *MemoryStore) Node(entityType, id string) (domain.VersionedNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[nodeKey{entityType, id}]
	return node, ok
}

// History returns a node's snapshots ordered by ValidFrom.
func (m *MemoryStore) History(entityType, id string) []domain.HistorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var history []domain.HistorySnapshot
	for key, snapshot := range m.snapshots {
		if key.entityType == entityType && key.id == id {
			history = append(history, snapshot)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].ValidFrom.Before(history[j].ValidFrom)
	})
	return history
}

// Events returns all recorded change events ordered by detection time.
func (m *MemoryStore) Events() []domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]domain.ChangeEvent, 0, len(m.events))
	for _, event := range m.events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].DetectedAt.Before(events[j].DetectedAt)
	})
	return events
}

// NodeTotals aggregates node counts per entity type.
func (m *MemoryStore) NodeTotals(ctx context.Context) ([]NodeTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]*NodeTotal)
	totalFor := func(entityType string) *NodeTotal {
		total, ok := byType[entityType]
		if !ok {
			total = &NodeTotal{EntityType: entityType}
			byType[entityType] = total
		}
		return total
	}

	for key, node := range m.nodes {
		total := totalFor(key.entityType)
		if node.IsDeleted {
			total.Deleted++
		} else {
			total.Live++
		}
	}
	for key := range m.snapshots {
		totalFor(key.entityType).History++
	}

	totals := make([]NodeTotal, 0, len(byType))
	for _, total := range byType {
		totals = append(totals, *total)
	}
	sort.Slice(totals, func(i, j int) bool {
		return totals[i].EntityType < totals[j].EntityType
	})
	return totals, nil
}

// ChangeEventsSince returns events detected at or after the given time.
func (m *MemoryStore) ChangeEventsSince(ctx context.Context, since time.Time) ([]domain.ChangeEvent, error) {
	var matched []domain.ChangeEvent
	for _, event := range m.Events() {
		if !event.DetectedAt.Before(since) {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

var _ GraphStore = (*MemoryStore)(nil)
var _ Reporter = (*MemoryStore)(nil)
