package domain

import "time"

// VersionedNode is the persisted current state of one entity. Exactly one
// current node exists per (EntityType, ID); superseded states move to
// HistorySnapshot rows and the current row is overwritten in place.
type VersionedNode struct {
	EntityType  string
	ID          string
	Attributes  map[string]any
	Fingerprint string
	ValidFrom   time.Time
	ValidTo     *time.Time
	IsCurrent   bool
	IsDeleted   bool
}

// NewVersionedNode creates the first version of an entity.
func NewVersionedNode(record EntityRecord, fingerprint string, validFrom time.Time) VersionedNode {
	return VersionedNode{
		EntityType:  record.EntityType,
		ID:          record.ID,
		Attributes:  copyAttributes(record.Attributes),
		Fingerprint: fingerprint,
		ValidFrom:   validFrom,
		IsCurrent:   true,
	}
}

// Superseded returns the replacement state for a node whose content changed.
// The caller snapshots the outgoing state first; the replacement's ValidFrom
// equals that snapshot's ValidTo, keeping the version chain gapless.
func (n VersionedNode) Superseded(record EntityRecord, fingerprint string, validFrom time.Time) VersionedNode {
	return VersionedNode{
		EntityType:  n.EntityType,
		ID:          n.ID,
		Attributes:  copyAttributes(record.Attributes),
		Fingerprint: fingerprint,
		ValidFrom:   validFrom,
		IsCurrent:   true,
	}
}

// SoftDeleted returns the node's terminal deleted state. The attributes and
// ValidFrom of the last live version are kept and ValidTo closes at the
// deletion time, so the row records when the entity died. The node leaves
// the current index and is never resurrected by later snapshots.
func (n VersionedNode) SoftDeleted(deletedAt time.Time) VersionedNode {
	deleted := n
	deleted.Attributes = copyAttributes(n.Attributes)
	deleted.ValidTo = &deletedAt
	deleted.IsCurrent = false
	deleted.IsDeleted = true
	return deleted
}
