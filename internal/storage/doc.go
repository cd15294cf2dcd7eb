// Package storage persists campaign run data: an append-only delivery audit
// and per-recipient suppression marks used to avoid double-sending when a
// campaign is re-triggered inside the suppression window.
//
// Two backends: a dependency-free file backend (JSON Lines plus a compacted
// snapshot) and an optional SQLite backend behind the "sqlite" build tag.
package storage
