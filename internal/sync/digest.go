package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// sameDocument reports whether two JSON documents carry the same content.
// encoding/json sorts map keys, so decoding and re-encoding gives a stable
// form regardless of the master's field order.
func sameDocument(a, b json.RawMessage) bool {
	ha, ok := documentHash(a)
	if !ok {
		return false
	}
	hb, ok := documentHash(b)
	return ok && ha == hb
}

func documentHash(doc json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return "", false
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%x", sha256.Sum256(canonical)), true
}
