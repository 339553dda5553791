package domain

import "time"

// HistorySnapshot is one superseded state of an entity, appended before the
// current node is overwritten or soft deleted. History rows are never updated
// or removed.
type HistorySnapshot struct {
	EntityType  string
	ID          string
	Attributes  map[string]any
	Fingerprint string
	ValidFrom   time.Time
	ValidTo     time.Time
}

// SnapshotOf captures a node's outgoing state, closed at validTo. The
// superseding state takes validTo as its ValidFrom, so every instant of the
// entity's timeline is covered by exactly one version.
func SnapshotOf(node VersionedNode, validTo time.Time) HistorySnapshot {
	return HistorySnapshot{
		EntityType:  node.EntityType,
		ID:          node.ID,
		Attributes:  copyAttributes(node.Attributes),
		Fingerprint: node.Fingerprint,
		ValidFrom:   node.ValidFrom,
		ValidTo:     validTo,
	}
}
