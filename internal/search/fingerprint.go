package search

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a stable identity for a ranked query, independent of
// page position. Two requests that differ only in from/size share one
// fingerprint and therefore one dead-link mask. Map keys marshal in sorted
// order, so equal query bodies always produce equal fingerprints.
func Fingerprint(query map[string]any) (string, error) {
	stripped := make(map[string]any, len(query))
	for k, v := range query {
		if k == "from" || k == "size" {
			continue
		}
		stripped[k] = v
	}

	encoded, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("failed to encode query for fingerprint: %w", err)
	}

	sum := sha1.Sum(encoded)
	return hex.EncodeToString(sum[:]), nil
}
