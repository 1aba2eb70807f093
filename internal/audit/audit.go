// Package audit implements the tamper-evident decision/administration log.
// Every entry hashes the canonical JSON of {ts, actor, action, diff}, where
// diff carries _prev = hash of the previous entry; mutating any past entry
// breaks every later hash.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jonboulle/clockwork"
)

// Entry is one audit record. Field order here fixes the on-disk JSON shape;
// the hash itself is computed over a key-sorted canonical form.
type Entry struct {
	TS     string         `json:"ts"`
	Actor  string         `json:"actor"`
	Action string         `json:"action"`
	Diff   map[string]any `json:"diff"`
	Hash   string         `json:"hash"`
}

// Report is the outcome of a chain verification walk.
type Report struct {
	OK           bool   `json:"ok"`
	Entries      int    `json:"entries"`
	FailureIndex int    `json:"failure_index,omitempty"`
	Reason       string `json:"reason,omitempty"`
	LastHash     string `json:"last_hash,omitempty"`
}

// Recorder is the write half of the audit log, consumed by every component
// that mutates persisted state.
type Recorder interface {
	Append(actor, action string, diff map[string]any) (Entry, error)
}

// nopRecorder discards entries. Only the synthetic benchmark path uses it:
// its batches never persist anything worth auditing.
type nopRecorder struct{}

func (nopRecorder) Append(string, string, map[string]any) (Entry, error) {
	return Entry{}, nil
}

// NopRecorder returns a Recorder that drops every entry.
func NopRecorder() Recorder { return nopRecorder{} }

// computeHash hashes the canonical JSON serialization of the entry base.
// Maps marshal with sorted keys and no insignificant whitespace, so the
// encoding is byte-stable across append and verify.
func computeHash(ts, actor, action string, diff map[string]any) (string, error) {
	base := map[string]any{
		"ts":     ts,
		"actor":  actor,
		"action": action,
		"diff":   diff,
	}
	blob, err := json.Marshal(base)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// withPrev copies diff and links it to the previous entry's hash. The first
// entry of a chain has no _prev key.
func withPrev(diff map[string]any, prevHash string) map[string]any {
	out := make(map[string]any, len(diff)+1)
	for k, v := range diff {
		out[k] = v
	}
	if prevHash != "" {
		if _, exists := out["_prev"]; !exists {
			out["_prev"] = prevHash
		}
	}
	return out
}

// buildEntry assembles and hashes a new entry.
func buildEntry(clock clockwork.Clock, actor, action string, diff map[string]any, prevHash string) (Entry, error) {
	ts := clock.Now().UTC().Format(timeFormat)
	linked := withPrev(diff, prevHash)
	h, err := computeHash(ts, actor, action, linked)
	if err != nil {
		return Entry{}, err
	}
	return Entry{TS: ts, Actor: actor, Action: action, Diff: linked, Hash: h}, nil
}

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// verifyEntries walks entries in insertion order, recomputing each hash and
// checking every _prev link.
func verifyEntries(entries []Entry) Report {
	prevHash := ""
	for i, e := range entries {
		h, err := computeHash(e.TS, e.Actor, e.Action, e.Diff)
		if err != nil || h != e.Hash {
			return Report{OK: false, Entries: i + 1, FailureIndex: i, Reason: "hash_mismatch"}
		}
		if prevHash != "" {
			link, _ := e.Diff["_prev"].(string)
			if link != prevHash {
				return Report{OK: false, Entries: i + 1, FailureIndex: i, Reason: "prev_link_mismatch"}
			}
		}
		prevHash = e.Hash
	}
	return Report{OK: true, Entries: len(entries), LastHash: prevHash}
}
