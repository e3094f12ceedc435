package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HashPrefix tags hashes with the algorithm that produced them.
const HashPrefix = "sha256:"

// Hash returns the tagged SHA-256 digest of v's canonical JSON.
func Hash(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

// Verify reports whether v hashes to expected.
func Verify(v any, expected string) (bool, error) {
	actual, err := Hash(v)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// Record is one sealed calculation. Hash covers the event id, timestamp,
// inputs and outputs together.
type Record struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"calculation_hash"`
	Inputs    any       `json:"inputs"`
	Outputs   any       `json:"outputs"`
}

func (r *Record) sealedContent() map[string]any {
	return map[string]any{
		"event_id":  r.EventID,
		"timestamp": r.Timestamp,
		"inputs":    r.Inputs,
		"outputs":   r.Outputs,
	}
}

// Seal builds a record of inputs and outputs as of now.
func Seal(eventID string, inputs, outputs any, now time.Time) (Record, error) {
	if eventID == "" {
		return Record{}, fmt.Errorf("Audit record requires an event id")
	}
	r := Record{
		EventID:   eventID,
		Timestamp: now.UTC(),
		Inputs:    inputs,
		Outputs:   outputs,
	}
	hash, err := Hash(r.sealedContent())
	if err != nil {
		return Record{}, fmt.Errorf("Failed to seal %s: %w", eventID, err)
	}
	r.Hash = hash
	return r, nil
}

// VerifyRecord reports whether r's contents still match its hash.
func VerifyRecord(r Record) (bool, error) {
	return Verify(r.sealedContent(), r.Hash)
}
