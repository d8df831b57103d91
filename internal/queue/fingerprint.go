package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Fingerprint computes the deterministic event ID: a hash of source + type +
// payload + the hour-truncated timestamp.
//
// Truncating to the hour (not the minute) is deliberate: it tolerates clock
// skew between independent producers while still collapsing true repeats.
// Two producers reporting the same logical event within the same hour
// generate the same ID and only one row is inserted. Producers that emit
// distinct events more often than hourly (like timer ticks) must include a
// per-tick unique field in the payload so each tick fingerprints uniquely.
func Fingerprint(source, eventType string, payload map[string]any, at time.Time) (string, error) {
	content, err := json.Marshal(map[string]any{
		"source":  source,
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload for fingerprint: %w", err)
	}
	hourKey := at.UTC().Format("2006010215")
	sum := sha256.Sum256([]byte(source + ":" + string(content) + ":" + hourKey))
	return "evt_" + hex.EncodeToString(sum[:])[:16], nil
}
