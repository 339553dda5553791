// Package domain holds the core reconciliation types: snapshot records,
// versioned nodes with their history, relationship edges, and the canonical
// fingerprint that drives change detection.
package domain

import "sort"

// EntityRecord is one entity's desired state in an incoming snapshot,
// identified by (EntityType, ID). Attributes carry the full business state;
// lifecycle bookkeeping lives on VersionedNode, never here.
type EntityRecord struct {
	EntityType string
	ID         string
	Attributes map[string]any
}

// NewEntityRecord creates a record with a defensive copy of attributes, so
// later mutation of the caller's map cannot skew fingerprinting.
func NewEntityRecord(entityType, id string, attributes map[string]any) EntityRecord {
	return EntityRecord{
		EntityType: entityType,
		ID:         id,
		Attributes: copyAttributes(attributes),
	}
}

// Snapshot is the complete desired state of one sync cycle: every record of
// every entity type, plus every relationship edge. Completeness is the
// contract; an absent record means the entity is gone upstream.
type Snapshot struct {
	Records map[string]map[string]EntityRecord
	Edges   []RelationshipEdge
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Records: make(map[string]map[string]EntityRecord)}
}

// Add inserts a record, replacing any earlier record with the same identity.
func (s *Snapshot) Add(record EntityRecord) {
	byID, ok := s.Records[record.EntityType]
	if !ok {
		byID = make(map[string]EntityRecord)
		s.Records[record.EntityType] = byID
	}
	byID[record.ID] = record
}

// EnsureType registers an entity type with no records yet. A type present
// with an empty record set is a statement that the collection is empty
// upstream, which the reconciler's empty-snapshot policy must get to judge;
// a type missing entirely is simply not part of the snapshot.
func (s *Snapshot) EnsureType(entityType string) {
	if _, ok := s.Records[entityType]; !ok {
		s.Records[entityType] = make(map[string]EntityRecord)
	}
}

// AddEdge appends a relationship edge.
func (s *Snapshot) AddEdge(edge RelationshipEdge) {
	s.Edges = append(s.Edges, edge)
}

// EntityTypes returns the entity types present in the snapshot, sorted.
func (s *Snapshot) EntityTypes() []string {
	types := make([]string, 0, len(s.Records))
	for entityType := range s.Records {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}

func copyAttributes(attributes map[string]any) map[string]any {
	if attributes == nil {
		return nil
	}
	copied := make(map[string]any, len(attributes))
	for key, value := range attributes {
		copied[key] = value
	}
	return copied
}
