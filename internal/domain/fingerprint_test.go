package domain

import "testing"

func mustFingerprint(t *testing.T, attributes map[string]any) string {
	t.Helper()
	fp, err := Fingerprint(attributes)
	if err != nil {
		t.Fatalf("failed to fingerprint %v: %v", attributes, err)
	}
	return fp
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := mustFingerprint(t, map[string]any{"name": "Acme", "revenue": 100.0, "city": "Oslo"})
	b := mustFingerprint(t, map[string]any{"city": "Oslo", "revenue": 100.0, "name": "Acme"})
	if a != b {
		t.Fatalf("fingerprints differ for identical content: %s vs %s", a, b)
	}
}

func TestFingerprintDetectsContentChange(t *testing.T) {
	a := mustFingerprint(t, map[string]any{"name": "Acme", "revenue": 100.0})
	b := mustFingerprint(t, map[string]any{"name": "Acme", "revenue": 200.0})
	if a == b {
		t.Fatal("fingerprints equal despite different content")
	}
}

func TestFingerprintTreatsNilAsAbsent(t *testing.T) {
	withNil := mustFingerprint(t, map[string]any{"name": "Acme", "website": nil})
	without := mustFingerprint(t, map[string]any{"name": "Acme"})
	if withNil != without {
		t.Fatalf("nil attribute changed fingerprint: %s vs %s", withNil, without)
	}
}

func TestFingerprintExcludesBookkeepingFields(t *testing.T) {
	plain := mustFingerprint(t, map[string]any{"name": "Acme"})
	decorated := mustFingerprint(t, map[string]any{
		"name":        "Acme",
		"valid_from":  "2026-01-01T00:00:00Z",
		"valid_to":    "2026-02-01T00:00:00Z",
		"is_current":  true,
		"is_deleted":  false,
		"fingerprint": "deadbeef",
		"last_synced": "2026-02-01T00:00:00Z",
	})
	if plain != decorated {
		t.Fatalf("bookkeeping fields changed fingerprint: %s vs %s", plain, decorated)
	}
}

func TestFingerprintEmptyAndUnmarshalable(t *testing.T) {
	empty := mustFingerprint(t, map[string]any{})
	var nilMap map[string]any
	if got := mustFingerprint(t, nilMap); got != empty {
		t.Fatalf("nil map fingerprints differently from empty map: %s vs %s", got, empty)
	}

	if _, err := Fingerprint(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for unencodable attribute value")
	}
}
