package domain

import (
	"testing"
	"time"
)

func TestVersionChainCoversTimelineWithoutGaps(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	record := NewEntityRecord("Company", "c1", map[string]any{"name": "Acme"})
	node := NewVersionedNode(record, "fp-1", t0)
	if !node.IsCurrent || node.IsDeleted {
		t.Fatalf("new node has wrong lifecycle flags: %+v", node)
	}

	snapshot := SnapshotOf(node, t1)
	updated := node.Superseded(NewEntityRecord("Company", "c1", map[string]any{"name": "Acme Corp"}), "fp-2", t1)

	if !snapshot.ValidTo.Equal(updated.ValidFrom) {
		t.Fatalf("version chain gap: snapshot closes at %s, replacement starts at %s", snapshot.ValidTo, updated.ValidFrom)
	}
	if !snapshot.ValidFrom.Equal(t0) || snapshot.Fingerprint != "fp-1" {
		t.Fatalf("snapshot does not capture outgoing state: %+v", snapshot)
	}
	if snapshot.Attributes["name"] != "Acme" {
		t.Fatalf("snapshot attributes mutated: %v", snapshot.Attributes)
	}
}

func TestSoftDeletedIsTerminal(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deletedAt := t0.Add(time.Hour)
	node := NewVersionedNode(NewEntityRecord("Contact", "p1", map[string]any{"email": "a@b.c"}), "fp", t0)

	deleted := node.SoftDeleted(deletedAt)
	if deleted.IsCurrent || !deleted.IsDeleted {
		t.Fatalf("soft delete has wrong lifecycle flags: %+v", deleted)
	}
	if deleted.Attributes["email"] != "a@b.c" {
		t.Fatalf("soft delete dropped attributes: %v", deleted.Attributes)
	}
	if !deleted.ValidFrom.Equal(t0) {
		t.Fatalf("soft delete moved ValidFrom to %s", deleted.ValidFrom)
	}
	if deleted.ValidTo == nil || !deleted.ValidTo.Equal(deletedAt) {
		t.Fatalf("soft delete did not close validity at deletion time: %v", deleted.ValidTo)
	}
}

func TestNewEntityRecordCopiesAttributes(t *testing.T) {
	attributes := map[string]any{"name": "Acme"}
	record := NewEntityRecord("Company", "c1", attributes)
	attributes["name"] = "Mutated"
	if record.Attributes["name"] != "Acme" {
		t.Fatal("record shares the caller's attribute map")
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("  Jane.Doe@Example.COM "); got != "jane.doe@example.com" {
		t.Fatalf("unexpected normalized key %q", got)
	}
}

func TestTrackabilityTable(t *testing.T) {
	table := NewTrackabilityTable([]string{"OPENED", "CLICKED"})
	if table.Trackable("OPENED") {
		t.Fatal("OPENED should be immutable")
	}
	if !table.Trackable("WORKS_AT") {
		t.Fatal("WORKS_AT should be trackable")
	}
}
