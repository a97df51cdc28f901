// Package alert implements the Alert Sender (spec.md §4.8): an HMAC-signed
// webhook delivery path for CRITICAL/HIGH events, rate limited and retried
// with exponential backoff.
package alert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentrymon/sentrymon/internal/events"
)

// envelope is the wire payload POSTed to the alert webhook.
type envelope struct {
	Timestamp   string        `json:"timestamp"`
	Event       events.Event  `json:"event"`
	PayloadHash string        `json:"payload_hash"`
}

// buildEnvelope constructs the envelope and its canonical JSON encoding.
// The encoding is plain encoding/json output: struct fields appear in
// declaration order and map[string]any keys in sorted order, so the bytes
// are deterministic for a given event and time, but the envelope's and the
// event's own keys are not alphabetically sorted. No further
// canonicalization pass is applied; the signature covers exactly these
// bytes.
func buildEnvelope(e events.Event, now time.Time) (envelope, []byte, error) {
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("alert: marshal event: %w", err)
	}
	hash := sha256.Sum256(eventJSON)

	env := envelope{
		Timestamp:   now.UTC().Format(time.RFC3339),
		Event:       e,
		PayloadHash: hex.EncodeToString(hash[:]),
	}
	canonical, err := json.Marshal(env)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("alert: marshal envelope: %w", err)
	}
	return env, canonical, nil
}

// sign computes the hex-encoded HMAC-SHA256 of payload under secret, in the
// "sha256=<hex>" form spec.md §4.8 requires for X-Hub-Signature-256.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
