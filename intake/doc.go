// Package intake is the Redis transport that feeds raw finding events to
// the worker pool and carries their summaries back out.
//
// # Redis Key Schema
//
//   - responder:findings - List of pending events (LPUSH/BRPOP)
//   - responder:findings:dead - List of events that could not be processed
//   - responder:outcomes - Pub/Sub channel for per-event outcomes
//   - responder:worker:<id>:health - String with 30s TTL for heartbeat
//   - responder:workers - Integer counter for active workers
//
// Producers may LPUSH either a bare event object or an Envelope. Bare events
// are wrapped in an Envelope with a generated id when popped.
//
// # Usage
//
//	client, err := intake.Dial(intake.RedisOptions{URL: "redis://localhost:6379"})
//	if err != nil {
//		return err
//	}
//	q := intake.NewRedisQueue(client, intake.DefaultKeys())
//
//	env, err := q.Push(ctx, []byte(`{"id":"f1","severity":8,"resource":"i-0abc"}`), "cli")
package intake
