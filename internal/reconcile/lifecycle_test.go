package reconcile

import (
	"testing"
	"time"

	"github.com/inboundfound/hubsync/internal/domain"
	"github.com/inboundfound/hubsync/internal/store"
)

// TestSnapshotSequenceLifecycle walks one entity population through four
// cycles: initial load, identical rerun, an attribute change, and a
// disappearance, checking counts and history at each step.
func TestSnapshotSequenceLifecycle(t *testing.T) {
	m := store.NewMemoryStore()
	service, clock := newTestService(m, Options{})

	build := func(title string, withC bool, withEdge bool) *domain.Snapshot {
		snapshot := domain.NewSnapshot()
		snapshot.Add(domain.NewEntityRecord("Contact", "A", map[string]any{"name": "A"}))
		snapshot.Add(domain.NewEntityRecord("Contact", "B", map[string]any{"name": "B", "title": title}))
		if withC {
			snapshot.Add(domain.NewEntityRecord("Contact", "C", map[string]any{"name": "C"}))
		}
		snapshot.Add(domain.NewEntityRecord("Company", "X", map[string]any{"name": "X"}))
		if withEdge {
			snapshot.AddEdge(domain.RelationshipEdge{
				RelType: "WORKS_AT", FromType: "Contact", FromKey: "A", ToType: "Company", ToKey: "X",
			})
		}
		return snapshot
	}

	// Cycle 1: everything is new, one edge added.
	summary := mustRun(t, service, build("engineer", true, true))
	if ts := summary.Entities["Contact"]; ts.New != 3 {
		t.Fatalf("cycle 1: %+v", ts)
	}
	if summary.Relationships.Added != 1 {
		t.Fatalf("cycle 1 relationships: %+v", summary.Relationships)
	}

	// Cycle 2: identical input, zero writes everywhere.
	clock.now = clock.now.Add(24 * time.Hour)
	summary = mustRun(t, service, build("engineer", true, true))
	ts := summary.Entities["Contact"]
	if ts.New != 0 || ts.Updated != 0 || ts.Deleted != 0 || ts.Unchanged != 3 {
		t.Fatalf("cycle 2: %+v", ts)
	}
	rel := summary.Relationships
	if rel.Added != 0 || rel.Removed != 0 || rel.Unchanged != 1 {
		t.Fatalf("cycle 2 relationships: %+v", rel)
	}
	if events := m.Events(); len(events) != 1 {
		t.Fatalf("cycle 2 grew the event log: %d events", len(events))
	}

	// Cycle 3: B's title changes; exactly one history snapshot appears and it
	// holds the old title.
	clock.now = clock.now.Add(24 * time.Hour)
	summary = mustRun(t, service, build("manager", true, true))
	if ts := summary.Entities["Contact"]; ts.Updated != 1 || ts.Unchanged != 2 {
		t.Fatalf("cycle 3: %+v", ts)
	}
	history := m.History("Contact", "B")
	if len(history) != 1 || history[0].Attributes["title"] != "engineer" {
		t.Fatalf("cycle 3 history: %+v", history)
	}
	node, _ := m.Node("Contact", "B")
	if node.Attributes["title"] != "manager" || node.Fingerprint == history[0].Fingerprint {
		t.Fatalf("cycle 3 current node: %+v", node)
	}

	// Cycle 4: C disappears and so does the edge.
	clock.now = clock.now.Add(24 * time.Hour)
	summary = mustRun(t, service, build("manager", false, false))
	if ts := summary.Entities["Contact"]; ts.Deleted != 1 {
		t.Fatalf("cycle 4: %+v", ts)
	}
	if summary.Relationships.Removed != 1 {
		t.Fatalf("cycle 4 relationships: %+v", summary.Relationships)
	}
	c, ok := m.Node("Contact", "C")
	if !ok || !c.IsDeleted {
		t.Fatalf("cycle 4: C not soft-deleted: %+v", c)
	}
	if history := m.History("Contact", "C"); len(history) != 1 {
		t.Fatalf("cycle 4: expected 1 snapshot for C, got %d", len(history))
	}
}
