package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind labels one relationship transition.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeEvent is the append-only audit record of one trackable relationship
// transition. Dedup key is (identity, kind, detectedAt), so a retried batch
// never records the same transition twice; the uuid is a row id only.
type ChangeEvent struct {
	ID         uuid.UUID
	ChangeKind ChangeKind
	RelType    string
	FromType   string
	FromKey    string
	ToType     string
	ToKey      string
	Attributes map[string]any
	DetectedAt time.Time
}

// NewChangeEvent records a transition of the given edge at detectedAt.
func NewChangeEvent(kind ChangeKind, edge RelationshipEdge, detectedAt time.Time) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		ChangeKind: kind,
		RelType:    edge.RelType,
		FromType:   edge.FromType,
		FromKey:    edge.FromKey,
		ToType:     edge.ToType,
		ToKey:      edge.ToKey,
		Attributes: copyAttributes(edge.Attributes),
		DetectedAt: detectedAt,
	}
}
