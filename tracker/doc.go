// Package tracker records the compliance lifecycle of every finding the
// pipeline sees.
//
// The Tracker is the only component that mutates AdvisoryRecords. Records are
// keyed by finding id, created on first sighting with status pending, and
// updated (never deleted) as the pipeline progresses. Every write is an
// idempotent upsert: status and last-updated are last-write-wins, and writing
// the same terminal status twice leaves a single record with that status.
//
// # Stores
//
// The Tracker persists records through a Store:
//   - MemoryStore: in-process map, for tests and single-shot runs
//   - RedisStore: one hash per record at advisory:<id>, ids indexed in the advisories set
//   - EtcdStore: JSON values at /<namespace>/advisories/<id>, updated with compare-and-swap
//   - SSMStore: JSON String parameters at /security/advisories/<id>
//
// Store failures surface as responderr TRACKING_STORE_UNAVAILABLE errors,
// which the pipeline retries.
package tracker
