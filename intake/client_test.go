package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/responder/pipeline"
)

// setupTestQueue creates a miniredis instance and returns a connected RedisQueue.
func setupTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := Dial(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	q := NewRedisQueue(client, DefaultKeys())
	q.SetPopTimeout(time.Second)

	t.Cleanup(func() {
		_ = q.Close()
	})

	return q, mr
}

func TestDial(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := Dial(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		defer client.Close()
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := Dial(RedisOptions{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := Dial(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestPushPop(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	first, err := q.Push(ctx, []byte(`{"id":"f1","severity":8}`), "test")
	require.NoError(t, err)
	_, err = q.Push(ctx, []byte(`{"id":"f2","severity":3}`), "test")
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)
	assert.True(t, mr.Exists("responder:findings"))

	env, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, first.ID, env.ID)
	assert.JSONEq(t, `{"id":"f1","severity":8}`, string(env.Event))
	assert.Equal(t, "test", env.Submitter)
	assert.Equal(t, 1, env.Deliveries)
}

func TestPushRejectsInvalidJSON(t *testing.T) {
	q, _ := setupTestQueue(t)

	_, err := q.Push(context.Background(), []byte(`{not json`), "test")
	assert.Error(t, err)
}

func TestPopWrapsBareEvents(t *testing.T) {
	q, mr := setupTestQueue(t)

	_, err := mr.Lpush("responder:findings", `{"id":"f1","source":"detection-engine","severity":8}`)
	require.NoError(t, err)

	env, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.NotEmpty(t, env.ID)
	assert.NotEqual(t, "f1", env.ID)
	assert.JSONEq(t, `{"id":"f1","source":"detection-engine","severity":8}`, string(env.Event))
}

func TestPopTimeoutReturnsNil(t *testing.T) {
	q, _ := setupTestQueue(t)

	env, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestRequeueIncrementsDeliveries(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	_, err := q.Push(ctx, []byte(`{"id":"f1"}`), "")
	require.NoError(t, err)

	env, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, *env))

	again, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.ID, again.ID)
	assert.Equal(t, 2, again.Deliveries)
}

func TestDeadLetter(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	env := Envelope{ID: "e1", Event: json.RawMessage(`{"severity":9}`)}
	require.NoError(t, q.DeadLetter(ctx, DeadLetter{
		Envelope:  env,
		ErrorCode: "MALFORMED_EVENT",
		Error:     "id is required",
		WorkerID:  "w1",
	}))

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "e1", letters[0].ID)
	assert.Equal(t, "MALFORMED_EVENT", letters[0].ErrorCode)
	assert.NotZero(t, letters[0].FailedAt)
}

func TestPublishSubscribeOutcomes(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomes, err := q.SubscribeOutcomes(ctx)
	require.NoError(t, err)

	sent := Outcome{
		EnvelopeID: "e1",
		WorkerID:   "w1",
		Summary:    pipeline.Summary{FindingID: "f1", State: pipeline.StateDone},
	}
	require.NoError(t, q.PublishOutcome(ctx, sent))

	select {
	case got := <-outcomes:
		assert.Equal(t, "e1", got.EnvelopeID)
		assert.Equal(t, "f1", got.Summary.FindingID)
		assert.Equal(t, pipeline.StateDone, got.Summary.State)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outcome")
	}

	cancel()
	_, open := <-outcomes
	for open {
		_, open = <-outcomes
	}
}

func TestHeartbeatAndWorkerCount(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Heartbeat(ctx, "host-1-abc"))
	assert.True(t, mr.Exists("responder:worker:host-1-abc:health"))
	assert.Equal(t, 30*time.Second, mr.TTL("responder:worker:host-1-abc:health"))

	count, err := q.WorkerCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, q.IncrementWorkerCount(ctx, 4))
	require.NoError(t, q.DecrementWorkerCount(ctx, 1))

	count, err = q.WorkerCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestWithPrefix(t *testing.T) {
	keys := WithPrefix("staging")
	assert.Equal(t, "staging:findings", keys.Findings)
	assert.Equal(t, "staging:findings:dead", keys.DeadLetter)
	assert.Equal(t, "staging:outcomes", keys.Outcomes)
	assert.Equal(t, DefaultKeys(), WithPrefix(""))
}
