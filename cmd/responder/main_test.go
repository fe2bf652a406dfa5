package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/pipeline"
	"github.com/zero-day-ai/responder/tracker"
)

func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RESPONDER_TRACKER_BACKEND", "memory")
	t.Setenv("RESPONDER_NOTIFIER_CHANNEL", "log")
	t.Setenv("RESPONDER_REMEDIATION_DRY_RUN", "true")
	t.Setenv("RESPONDER_LOG_LEVEL", "error")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestProcessCommand(t *testing.T) {
	localEnv(t)

	out, err := execute(t, `{"id":"f1","source":"detection-engine","severity":9.1,"resource":"r-123"}`, "process")
	require.NoError(t, err)

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "f1", summary.FindingID)
	assert.Equal(t, pipeline.StateDone, summary.State)

	rem, ok := summary.Outcome(pipeline.ActionRemediate)
	require.True(t, ok)
	assert.Equal(t, pipeline.OutcomeSucceeded, rem.Status)
	assert.True(t, rem.DryRun)
	assert.Contains(t, rem.Detail, "dry run")
}

func TestProcessCommandWithoutIsolationBackend(t *testing.T) {
	localEnv(t)
	t.Setenv("RESPONDER_REMEDIATION_DRY_RUN", "false")

	out, err := execute(t, `{"id":"f2","source":"detection-engine","severity":9.1,"resource":"i-0abc"}`, "process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSUPPORTED_RESOURCE")

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, pipeline.StatePartialFailure, summary.State)

	rem, ok := summary.Outcome(pipeline.ActionRemediate)
	require.True(t, ok)
	assert.Equal(t, pipeline.OutcomeFailed, rem.Status)
	assert.Equal(t, "UNSUPPORTED_RESOURCE", rem.ErrorCode)
}

func TestProcessCommandFromFile(t *testing.T) {
	localEnv(t)

	path := filepath.Join(t.TempDir(), "advisory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"AA24-001A","source":"advisory-feed","title":"Critical flaw"}`), 0o644))

	out, err := execute(t, "", "process", path)
	require.NoError(t, err)

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	notified, ok := summary.Outcome(pipeline.ActionNotify)
	require.True(t, ok)
	assert.Equal(t, pipeline.OutcomeSucceeded, notified.Status)
}

func TestProcessCommandMalformed(t *testing.T) {
	localEnv(t)

	out, err := execute(t, `{"severity": 5}`, "process")
	require.Error(t, err)
	assert.Contains(t, out, `"MALFORMED_EVENT"`)
}

func TestSubmitCommand(t *testing.T) {
	localEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("RESPONDER_REDIS_URL", "redis://"+mr.Addr())

	out, err := execute(t, `{"id":"f9","severity":3}`, "submit")
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp["envelope_id"])

	items, err := mr.List(intake.DefaultKeys().Findings)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], resp["envelope_id"])
}

func TestDeadLettersCommandEmpty(t *testing.T) {
	localEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("RESPONDER_REDIS_URL", "redis://"+mr.Addr())

	out, err := execute(t, "", "dead-letters")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")
}

func TestRecordGetMissing(t *testing.T) {
	localEnv(t)

	_, err := execute(t, "", "record", "get", "nope")
	assert.Error(t, err)
}

// redisTracker points the tracker at miniredis and returns a store on the
// same keys for seeding records.
func redisTracker(t *testing.T) *tracker.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("RESPONDER_REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("RESPONDER_TRACKER_BACKEND", "redis")

	store := tracker.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), tracker.DefaultRedisPrefix)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordListCommand(t *testing.T) {
	localEnv(t)
	store := redisTracker(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "f-2", tracker.Fields{Status: tracker.StatusNotified, UpdatedAt: time.Now()}))
	require.NoError(t, store.Upsert(ctx, "f-1", tracker.Fields{Status: tracker.StatusRemediated, ResourceRef: "i-1", UpdatedAt: time.Now()}))
	require.NoError(t, store.Upsert(ctx, "f-3", tracker.Fields{Status: tracker.StatusPending, UpdatedAt: time.Now()}))

	out, err := execute(t, "", "record", "list")
	require.NoError(t, err)
	var all []tracker.AdvisoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	require.Len(t, all, 3)
	assert.Equal(t, "f-1", all[0].FindingID)

	out, err = execute(t, "", "record", "list", "--open")
	require.NoError(t, err)
	var open []tracker.AdvisoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &open))
	require.Len(t, open, 2)
	assert.Equal(t, "f-2", open[0].FindingID)
	assert.Equal(t, "f-3", open[1].FindingID)

	out, err = execute(t, "", "record", "list", "--status", "remediated")
	require.NoError(t, err)
	var remediated []tracker.AdvisoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &remediated))
	require.Len(t, remediated, 1)
	assert.Equal(t, "i-1", remediated[0].ResourceRef)

	_, err = execute(t, "", "record", "list", "--status", "archived")
	assert.Error(t, err)
}

func TestReleaseCommandDryRunKeepsRecord(t *testing.T) {
	localEnv(t)
	store := redisTracker(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "f-1", tracker.Fields{
		Status:         tracker.StatusRemediated,
		ResourceRef:    "i-0abc",
		PreviousGroups: []string{"sg-web"},
		UpdatedAt:      time.Now(),
	}))

	out, err := execute(t, "", "release", "f-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"dry_run": true`)

	rec, err := store.Get(ctx, "f-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, tracker.StatusRemediated, rec.Status)
}

func TestReleaseCommandNeedsRemediatedRecord(t *testing.T) {
	localEnv(t)
	store := redisTracker(t)
	require.NoError(t, store.Upsert(context.Background(), "f-1", tracker.Fields{Status: tracker.StatusNotified, UpdatedAt: time.Now()}))

	_, err := execute(t, "", "release", "f-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not remediated")

	_, err = execute(t, "", "release", "missing")
	assert.Error(t, err)
}

func TestConfigFileFlag(t *testing.T) {
	localEnv(t)
	path := filepath.Join(t.TempDir(), "responder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triage:\n  severity_threshold: 9.5\n"), 0o644))

	out, err := execute(t, `{"id":"f1","severity":9.1,"resource":"r-123"}`, "process", "--config", path)
	require.NoError(t, err)

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "none", string(summary.TriageAction))
}
