// Package worker runs a pool of goroutines that pop events from the intake
// queue and push each through the pipeline.
//
// Each goroutine handles one event at a time:
//  1. Pops an envelope from the queue
//  2. Runs it through the pipeline Controller
//  3. Dead-letters malformed events and requeues cancelled ones
//  4. Publishes the outcome
//
// On shutdown the pool stops popping immediately but gives in-flight events
// until ShutdownTimeout to finish. Events that are cut off are requeued, so
// a shutdown never silently drops a finding.
package worker
