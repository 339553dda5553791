package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// bookkeepingFields are lifecycle and sync metadata, excluded from
// fingerprinting so that version churn never masquerades as a business
// change.
var bookkeepingFields = map[string]struct{}{
	"valid_from":  {},
	"valid_to":    {},
	"is_current":  {},
	"is_deleted":  {},
	"fingerprint": {},
	"last_synced": {},
}

// Fingerprint computes the canonical content hash of an attribute map.
// Keys are visited in sorted order and nil values are dropped, so attribute
// ordering and omitted-versus-nil never affect the result. Two states
// fingerprint equal exactly when their business content is equal.
func Fingerprint(attributes map[string]any) (string, error) {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		if _, skip := bookkeepingFields[key]; skip {
			continue
		}
		if attributes[key] == nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		encoded, err := json.Marshal(attributes[key])
		if err != nil {
			return "", fmt.Errorf("fingerprint attribute %q: %w", key, err)
		}
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write(encoded)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
