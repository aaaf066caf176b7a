package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the dedup key for an inbound payload:
// sha256 over source, external id, and the canonical JSON form of the
// payload. Two payloads that differ only in map ordering or number
// formatting fingerprint identically.
func Fingerprint(source, externalID string, payload map[string]any) (string, error) {
	canon, err := CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("ingress: canonicalize payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSON renders v with sorted object keys and normalized
// number representation. The round-trip through the generic decoder
// collapses 1.0 and 1 to the same encoding.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	// encoding/json emits map keys in sorted order.
	return json.Marshal(generic)
}
