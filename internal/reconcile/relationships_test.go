package reconcile

import (
	"context"
	"testing"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/store"
)

func edge(relType, fromType, fromKey, toType, toKey string) domain.RelationshipEdge {
	return domain.RelationshipEdge{
		RelType:  relType,
		FromType: fromType,
		FromKey:  fromKey,
		ToType:   toType,
		ToKey:    toKey,
	}
}

func graphSnapshot(records map[string]map[string]map[string]any, edges ...domain.RelationshipEdge) *domain.Snapshot {
	snapshot := domain.NewSnapshot()
	for entityType, byID := range records {
		for id, attributes := range byID {
			snapshot.Add(domain.NewEntityRecord(entityType, id, attributes))
		}
	}
	for _, e := range edges {
		snapshot.AddEdge(e)
	}
	return snapshot
}

func TestNewTrackableEdgeIsAddedAndEvented(t *testing.T) {
	m := store.NewMemoryStore()
	service, _ := newTestService(m, Options{})

	summary := mustRun(t, service, graphSnapshot(
		map[string]map[string]map[string]any{
			"Contact": {"p1": {"email": "a@x.com"}},
			"Company": {"c1": {"name": "Acme"}},
		},
		edge("WORKS_AT", "Contact", "p1", "Company", "c1"),
	))

	if rel := summary.Relationships; rel.Added != 1 || rel.Removed != 0 {
		t.Fatalf("unexpected relationship summary: %+v", rel)
	}
	events := m.Events()
	if len(events) != 1 || events[0].ChangeKind != domain.ChangeAdded {
		t.Fatalf("expected one added event, got %+v", events)
	}
	if events[0].RelType != "WORKS_AT" || events[0].FromKey != "p1" || events[0].ToKey != "c1" {
		t.Fatalf("event does not describe the edge: %+v", events[0])
	}
}

func TestEdgeChurnEmitsRemovedThenAdded(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{})

	entities := map[string]map[string]map[string]any{
		"Contact": {"p1": {"email": "a@x.com"}},
		"Company": {"c1": {"name": "Acme"}, "c2": {"name": "Globex"}},
	}
	mustRun(t, service, graphSnapshot(entities, edge("WORKS_AT", "Contact", "p1", "Company", "c1")))

	clock.now = cycleTwo
	summary := mustRun(t, service, graphSnapshot(entities, edge("WORKS_AT", "Contact", "p1", "Company", "c2")))

	if rel := summary.Relationships; rel.Added != 1 || rel.Removed != 1 {
		t.Fatalf("unexpected relationship summary: %+v", rel)
	}

	kinds := map[string]domain.ChangeKind{}
	for _, event := range m.Events() {
		if event.DetectedAt.Equal(cycleTwo) {
			kinds[event.ToKey] = event.ChangeKind
		}
	}
	if kinds["c1"] != domain.ChangeRemoved || kinds["c2"] != domain.ChangeAdded {
		t.Fatalf("unexpected churn events: %v", kinds)
	}

	edges, err := m.ReadEdgeSet(context.Background(), true)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected exactly the new edge, got %d", len(edges))
	}
	if _, ok := edges[edge("WORKS_AT", "Contact", "p1", "Company", "c2").Identity()]; !ok {
		t.Fatal("new edge missing after churn")
	}
}

func TestUnchangedEdgesProduceNoEvents(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{})

	entities := map[string]map[string]map[string]any{
		"Contact": {"p1": {"email": "a@x.com"}},
		"Company": {"c1": {"name": "Acme"}},
	}
	snapshot := func() *domain.Snapshot {
		return graphSnapshot(entities, edge("WORKS_AT", "Contact", "p1", "Company", "c1"))
	}

	mustRun(t, service, snapshot())
	clock.now = cycleTwo
	summary := mustRun(t, service, snapshot())

	if rel := summary.Relationships; rel.Unchanged != 1 || rel.Added != 0 || rel.Removed != 0 {
		t.Fatalf("unexpected relationship summary: %+v", rel)
	}
	if events := m.Events(); len(events) != 1 {
		t.Fatalf("rerun evented an unchanged edge: %d events", len(events))
	}
}

func TestImmutableEdgesUpsertWithoutEvents(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{NaturalKeys: map[string]string{"Contact": "email"}})

	entities := map[string]map[string]map[string]any{
		"Contact":       {"p1": {"email": "a@x.com"}},
		"EmailCampaign": {"e1": {"name": "Launch"}},
	}
	opened := edge("OPENED", "Contact", "a@x.com", "EmailCampaign", "e1")

	summary := mustRun(t, service, graphSnapshot(entities, opened))
	if rel := summary.Relationships; rel.ImmutableSeen != 1 {
		t.Fatalf("immutable edge not counted: %+v", rel)
	}
	if events := m.Events(); len(events) != 0 {
		t.Fatalf("immutable edge was evented: %+v", events)
	}

	edges, err := m.ReadEdgeSet(context.Background(), false)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 immutable edge, got %d", len(edges))
	}

	// An immutable edge disappearing from the snapshot is not a removal;
	// one-time facts persist.
	clock.now = cycleTwo
	mustRun(t, service, graphSnapshot(entities))
	edges, err = m.ReadEdgeSet(context.Background(), false)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatal("immutable edge was removed by a later snapshot")
	}
	if events := m.Events(); len(events) != 0 {
		t.Fatalf("immutable disappearance was evented: %+v", events)
	}
}

func TestDanglingEdgesAreFilteredSilently(t *testing.T) {
	m := store.NewMemoryStore()
	service, _ := newTestService(m, Options{})

	summary := mustRun(t, service, graphSnapshot(
		map[string]map[string]map[string]any{
			"Contact": {"p1": {"email": "a@x.com"}},
		},
		edge("WORKS_AT", "Contact", "p1", "Company", "missing"),
	))

	if rel := summary.Relationships; rel.FilteredDangling != 1 || rel.Added != 0 {
		t.Fatalf("dangling edge not filtered: %+v", rel)
	}
	edges, err := m.ReadEdgeSet(context.Background(), true)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatal("dangling edge was written")
	}
	if events := m.Events(); len(events) != 0 {
		t.Fatalf("dangling edge was evented: %+v", events)
	}
}

func TestNaturalKeyEndpointResolution(t *testing.T) {
	m := store.NewMemoryStore()
	service, _ := newTestService(m, Options{NaturalKeys: map[string]string{"Contact": "email"}})

	// The edge references the contact by email with different casing; the
	// resolver normalizes both sides.
	summary := mustRun(t, service, graphSnapshot(
		map[string]map[string]map[string]any{
			"Contact":        {"p1": {"email": "jane@example.com"}},
			"FormSubmission": {"fs1": {"form_id": "f1"}},
		},
		edge("SUBMITTED", "Contact", "Jane@Example.COM", "FormSubmission", "fs1"),
	))

	if rel := summary.Relationships; rel.FilteredDangling != 0 {
		t.Fatalf("natural-key endpoint treated as dangling: %+v", rel)
	}
	edges, err := m.ReadEdgeSet(context.Background(), false)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
}

func TestRemovalEventPrecedesEdgeDeletionInBatch(t *testing.T) {
	recording := &recordingStore{MemoryStore: store.NewMemoryStore()}
	service, clock := newTestService(recording, Options{})

	entities := map[string]map[string]map[string]any{
		"Contact": {"p1": {"email": "a@x.com"}},
		"Company": {"c1": {"name": "Acme"}},
	}
	mustRun(t, service, graphSnapshot(entities, edge("WORKS_AT", "Contact", "p1", "Company", "c1")))

	clock.now = cycleTwo
	recording.batches = nil
	mustRun(t, service, graphSnapshot(entities))

	var sawPair bool
	for _, batch := range recording.batches {
		for j, op := range batch {
			if op.Kind != store.OpDeleteEdge {
				continue
			}
			if j == 0 || batch[j-1].Kind != store.OpInsertEvent {
				t.Fatal("edge deletion not preceded by its removal event")
			}
			if batch[j-1].Event.ChangeKind != domain.ChangeRemoved {
				t.Fatalf("deletion preceded by %s event", batch[j-1].Event.ChangeKind)
			}
			sawPair = true
		}
	}
	if !sawPair {
		t.Fatal("no edge deletion observed")
	}
}

func TestSkippedSnapshotHoldsEdgeRemovals(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{EmptySnapshotPolicy: EmptySnapshotSkip})

	mustRun(t, service, graphSnapshot(
		map[string]map[string]map[string]any{
			"Contact": {"p1": {"email": "a@x.com"}},
			"Company": {"c1": {"name": "Acme"}},
		},
		edge("WORKS_AT", "Contact", "p1", "Company", "c1"),
	))

	// Contact comes back empty; the skip policy protects its nodes, and the
	// edges anchored on them must survive the same ambiguity.
	clock.now = cycleTwo
	second := graphSnapshot(map[string]map[string]map[string]any{
		"Company": {"c1": {"name": "Acme"}},
	})
	second.Records["Contact"] = map[string]domain.EntityRecord{}
	summary := mustRun(t, service, second)

	if !summary.Entities["Contact"].SkippedRun {
		t.Fatalf("empty snapshot not skipped: %+v", summary.Entities["Contact"])
	}
	rel := summary.Relationships
	if rel.Removed != 0 || rel.RemovalsHeld != 1 {
		t.Fatalf("skipped type's edges were removed: %+v", rel)
	}
	edges, err := m.ReadEdgeSet(context.Background(), true)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatal("edge anchored on skipped type was deleted")
	}
	for _, event := range m.Events() {
		if event.ChangeKind == domain.ChangeRemoved {
			t.Fatalf("removal evented for skipped type's edge: %+v", event)
		}
	}
}

func TestDeletePolicyStillRemovesEdges(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{EmptySnapshotPolicy: EmptySnapshotDelete})

	mustRun(t, service, graphSnapshot(
		map[string]map[string]map[string]any{
			"Contact": {"p1": {"email": "a@x.com"}},
			"Company": {"c1": {"name": "Acme"}},
		},
		edge("WORKS_AT", "Contact", "p1", "Company", "c1"),
	))

	clock.now = cycleTwo
	second := graphSnapshot(map[string]map[string]map[string]any{
		"Company": {"c1": {"name": "Acme"}},
	})
	second.Records["Contact"] = map[string]domain.EntityRecord{}
	summary := mustRun(t, service, second)

	// The caller opted in to trusting empty snapshots, so edge removal is a
	// real state change here, not held ambiguity.
	if ts := summary.Entities["Contact"]; ts.Deleted != 1 || ts.SkippedRun {
		t.Fatalf("delete policy did not fire: %+v", ts)
	}
	rel := summary.Relationships
	if rel.Removed != 1 || rel.RemovalsHeld != 0 {
		t.Fatalf("delete policy held edge removals: %+v", rel)
	}
}
