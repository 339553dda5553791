package domain

import "strings"

// RelationshipEdge is one directed relationship in a snapshot or the store.
// Identity is the full (RelType, FromType, FromKey, ToType, ToKey) tuple;
// attributes ride along but never participate in diffing.
type RelationshipEdge struct {
	RelType    string
	FromType   string
	FromKey    string
	ToType     string
	ToKey      string
	Attributes map[string]any
	Trackable  bool
}

// EdgeIdentity uniquely identifies an edge. It is comparable, so it can key
// maps directly.
type EdgeIdentity struct {
	RelType  string
	FromType string
	FromKey  string
	ToType   string
	ToKey    string
}

// Identity returns the edge's identity tuple.
func (e RelationshipEdge) Identity() EdgeIdentity {
	return EdgeIdentity{
		RelType:  e.RelType,
		FromType: e.FromType,
		FromKey:  e.FromKey,
		ToType:   e.ToType,
		ToKey:    e.ToKey,
	}
}

// NormalizeKey canonicalizes a natural key value. Both the write path and
// endpoint resolution apply it, so casing and stray whitespace in the source
// never split one identity into two.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// TrackabilityTable classifies relationship types. Trackable edges are
// diffed against the store and their transitions evented; immutable edges
// record one-time facts and are only ever upserted.
type TrackabilityTable struct {
	immutable map[string]struct{}
}

// NewTrackabilityTable builds a table where the given relationship types are
// immutable and every other type is trackable.
func NewTrackabilityTable(immutableRelTypes []string) TrackabilityTable {
	immutable := make(map[string]struct{}, len(immutableRelTypes))
	for _, relType := range immutableRelTypes {
		immutable[relType] = struct{}{}
	}
	return TrackabilityTable{immutable: immutable}
}

// Trackable reports whether edges of relType are diffed and evented.
func (t TrackabilityTable) Trackable(relType string) bool {
	_, immutable := t.immutable[relType]
	return !immutable
}
