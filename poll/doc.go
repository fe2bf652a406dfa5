// Package poll periodically pulls events from an upstream source and queues
// the ones not seen before.
//
// Sources are the advisory feed and the GuardDuty findings API. A Poller
// remembers the ids it queued recently in a bounded LRU cache and consults
// the advisory tracker for older ones, so repeated polls of an unchanged
// source queue nothing and memory stays flat for long-running processes.
package poll
