package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/responder/finding"
	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/poll"
)

type fakeGuardDuty struct {
	mu        sync.Mutex
	detectors []string
	findings  []types.Finding
	pageSize  int

	listInputs []*guardduty.ListFindingsInput
	getCalls   [][]string
	err        error
}

func (f *fakeGuardDuty) ListDetectors(ctx context.Context, in *guardduty.ListDetectorsInput, _ ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &guardduty.ListDetectorsOutput{DetectorIds: f.detectors}, nil
}

func (f *fakeGuardDuty) ListFindings(ctx context.Context, in *guardduty.ListFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.listInputs = append(f.listInputs, in)

	start := 0
	if tok := aws.ToString(in.NextToken); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	end := min(start+f.pageSize, len(f.findings))

	out := &guardduty.ListFindingsOutput{}
	for _, gf := range f.findings[start:end] {
		out.FindingIds = append(out.FindingIds, aws.ToString(gf.Id))
	}
	if end < len(f.findings) {
		out.NextToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func (f *fakeGuardDuty) GetFindings(ctx context.Context, in *guardduty.GetFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, in.FindingIds)

	out := &guardduty.GetFindingsOutput{}
	for _, id := range in.FindingIds {
		for _, gf := range f.findings {
			if aws.ToString(gf.Id) == id {
				out.Findings = append(out.Findings, gf)
			}
		}
	}
	return out, nil
}

func instanceFinding(id, instanceID string, severity float64) types.Finding {
	return types.Finding{
		Id:          aws.String(id),
		Type:        aws.String("Backdoor:EC2/C&CActivity.B"),
		Title:       aws.String("EC2 instance is querying a C&C domain"),
		Description: aws.String(instanceID + " is querying a known command and control domain."),
		Severity:    aws.Float64(severity),
		AccountId:   aws.String("123456789012"),
		Region:      aws.String("us-east-1"),
		UpdatedAt:   aws.String("2026-03-01T10:00:00Z"),
		Resource: &types.Resource{
			ResourceType:    aws.String("Instance"),
			InstanceDetails: &types.InstanceDetails{InstanceId: aws.String(instanceID)},
		},
		Service: &types.Service{
			Archived:       aws.Bool(false),
			EventFirstSeen: aws.String("2026-03-01T09:58:00Z"),
		},
	}
}

func newFakeGuardDuty(n int) *fakeGuardDuty {
	f := &fakeGuardDuty{detectors: []string{"det-1"}, pageSize: 50}
	for i := 0; i < n; i++ {
		f.findings = append(f.findings, instanceFinding(fmt.Sprintf("gd-%03d", i), fmt.Sprintf("i-%04d", i), 8))
	}
	return f
}

func TestGuardDutySourceFetchesActiveFindings(t *testing.T) {
	api := newFakeGuardDuty(3)
	src, err := NewGuardDutySource(api, GuardDutyOptions{})
	require.NoError(t, err)

	entries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Len(t, api.listInputs, 1)
	in := api.listInputs[0]
	assert.Equal(t, "det-1", aws.ToString(in.DetectorId))
	assert.Equal(t, []string{"false"}, in.FindingCriteria.Criterion["service.archived"].Eq)

	f, err := finding.Normalize(entries[0].Event)
	require.NoError(t, err)
	assert.Equal(t, "gd-000", f.ID)
	assert.Equal(t, finding.SourceDetectionEngine, f.Source)
	assert.Equal(t, 8.0, f.Severity)
	assert.Equal(t, "i-0000", f.ResourceRef)
	assert.Equal(t, "2026-03-01T10:00:00Z", f.PublishedAt)
}

func TestGuardDutySourcePagesAndBatches(t *testing.T) {
	api := newFakeGuardDuty(120)
	api.pageSize = 40
	src, err := NewGuardDutySource(api, GuardDutyOptions{DetectorID: "det-9", MaxFindings: 110})
	require.NoError(t, err)

	entries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 110)

	assert.Len(t, api.listInputs, 3)
	assert.Equal(t, "det-9", aws.ToString(api.listInputs[0].DetectorId))
	require.Len(t, api.getCalls, 3)
	assert.Len(t, api.getCalls[0], 50)
	assert.Len(t, api.getCalls[2], 10)
}

func TestGuardDutySourceWithoutDetector(t *testing.T) {
	api := newFakeGuardDuty(1)
	api.detectors = nil
	src, err := NewGuardDutySource(api, GuardDutyOptions{})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.Error(t, err)

	api.err = errors.New("AccessDeniedException")
	_, err = src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestEventWithoutInstance(t *testing.T) {
	gf := types.Finding{
		Id:       aws.String("gd-key"),
		Severity: aws.Float64(5),
		Title:    aws.String("Unusual API call"),
		Resource: &types.Resource{ResourceType: aws.String("AccessKey")},
	}
	raw, err := Event(gf)
	require.NoError(t, err)

	f, err := finding.Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, f.ResourceRef)
	assert.False(t, f.HasResource())

	_, err = Event(types.Finding{})
	assert.Error(t, err)
}

type recordingPusher struct {
	mu     sync.Mutex
	events [][]byte
}

func (p *recordingPusher) Push(ctx context.Context, event []byte, submitter string) (intake.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return intake.Envelope{ID: "e", Event: event, Submitter: submitter}, nil
}

func TestGuardDutyPollQueuesOnce(t *testing.T) {
	api := newFakeGuardDuty(2)
	src, err := NewGuardDutySource(api, GuardDutyOptions{})
	require.NoError(t, err)

	pusher := &recordingPusher{}
	p, err := poll.New(src, pusher, nil)
	require.NoError(t, err)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)

	res, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, pusher.events, 2)
}
