// Package viewstore groups the cqrs.ViewRepository implementations:
//
//   - memory: a map, for tests and the default serve mode
//   - sqlite: one row per view in a SQLite table, JSON encoded
//   - badger: one key per view in an embedded BadgerDB, JSON encoded
//
// Every repository stores a view together with the sequence of the last
// event applied to it, so replays and redeliveries are idempotent.
package viewstore
