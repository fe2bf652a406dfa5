package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/tracker"
)

type staticSource struct {
	entries []Entry
	err     error
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Fetch(ctx context.Context) ([]Entry, error) {
	return s.entries, s.err
}

func entries(ids ...string) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry{ID: id, Event: []byte(fmt.Sprintf(`{"id":%q,"severity":5}`, id))})
	}
	return out
}

type recordingPusher struct {
	mu         sync.Mutex
	events     [][]byte
	submitters []string
	err        error
}

func (p *recordingPusher) Push(ctx context.Context, event []byte, submitter string) (intake.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return intake.Envelope{}, p.err
	}
	p.events = append(p.events, event)
	p.submitters = append(p.submitters, submitter)
	return intake.Envelope{ID: "e", Event: event, Submitter: submitter}, nil
}

func (p *recordingPusher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestPollQueuesOnce(t *testing.T) {
	pusher := &recordingPusher{}
	p, err := New(staticSource{entries: entries("a", "b")}, pusher, nil)
	require.NoError(t, err)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 2, Queued: 2}, res)

	res, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 2, Skipped: 2}, res)
	assert.Equal(t, []string{"static-poller", "static-poller"}, pusher.submitters)
}

func TestPollCountsRenderFailures(t *testing.T) {
	pusher := &recordingPusher{}
	src := staticSource{entries: append(entries("a"), Entry{ID: "bad", Err: errors.New("unrenderable")})}
	p, err := New(src, pusher, nil)
	require.NoError(t, err)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Fetched: 2, Queued: 1, Failed: 1}, res)
}

func TestPollMemoryIsBounded(t *testing.T) {
	tr := tracker.New(tracker.NewMemoryStore())
	pusher := &recordingPusher{}
	p, err := New(staticSource{entries: entries("a", "b", "c", "d")}, pusher, tr, WithMemory(2))
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.queued.Len())
	assert.False(t, p.queued.Contains("a"), "oldest ids are evicted")

	// Once the pipeline has tracked the evicted ids the tracker keeps
	// them from being queued again.
	for _, id := range []string{"a", "b"} {
		require.NoError(t, tr.Resolve(context.Background(), id, tracker.StatusNotified, ""))
	}
	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 4, pusher.Count())
}

func TestPollWithoutTrackerRequeuesEvicted(t *testing.T) {
	pusher := &recordingPusher{}
	p, err := New(staticSource{entries: entries("a", "b", "c")}, pusher, nil, WithMemory(2))
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	res, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, p.queued.Len())
	assert.Positive(t, res.Queued)
}

func TestPollSourceFailure(t *testing.T) {
	p, err := New(staticSource{err: errors.New("feed down")}, &recordingPusher{}, nil)
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	assert.Error(t, err)
}

func TestPollPushFailure(t *testing.T) {
	pusher := &recordingPusher{err: errors.New("redis down")}
	p, err := New(staticSource{entries: entries("a")}, pusher, nil)
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.queued.Len(), "failed pushes are not remembered")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &recordingPusher{}, nil)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	pusher := &recordingPusher{}
	p, err := New(staticSource{entries: entries("x")}, pusher, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, 1, pusher.Count())
}

func TestRunRejectsZeroInterval(t *testing.T) {
	p, err := New(staticSource{}, &recordingPusher{}, nil)
	require.NoError(t, err)
	assert.Error(t, p.Run(context.Background(), 0))
}
