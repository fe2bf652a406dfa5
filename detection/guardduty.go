package detection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/guardduty/types"

	"github.com/zero-day-ai/responder/poll"
)

const (
	// DefaultMaxFindings caps how many findings one fetch reads.
	DefaultMaxFindings = 500

	// getFindingsBatch is the most ids GetFindings accepts per call.
	getFindingsBatch = 50
)

// GuardDutyAPI is the subset of the GuardDuty client the source uses.
// *guardduty.Client satisfies it.
type GuardDutyAPI interface {
	ListDetectors(ctx context.Context, params *guardduty.ListDetectorsInput, optFns ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error)
	ListFindings(ctx context.Context, params *guardduty.ListFindingsInput, optFns ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error)
	GetFindings(ctx context.Context, params *guardduty.GetFindingsInput, optFns ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error)
}

// GuardDutyOptions configures a GuardDutySource.
type GuardDutyOptions struct {
	// DetectorID selects the detector. Empty uses the first detector the
	// account lists.
	DetectorID string

	// MaxFindings caps one fetch. Default: DefaultMaxFindings
	MaxFindings int
}

// GuardDutySource lists the detector's non-archived findings.
type GuardDutySource struct {
	client      GuardDutyAPI
	detectorID  string
	maxFindings int
}

// NewGuardDutySource creates a source over client.
func NewGuardDutySource(client GuardDutyAPI, opts GuardDutyOptions) (*GuardDutySource, error) {
	if client == nil {
		return nil, fmt.Errorf("guardduty client is required")
	}
	if opts.MaxFindings <= 0 {
		opts.MaxFindings = DefaultMaxFindings
	}
	return &GuardDutySource{
		client:      client,
		detectorID:  opts.DetectorID,
		maxFindings: opts.MaxFindings,
	}, nil
}

// Name implements poll.Source.
func (s *GuardDutySource) Name() string {
	return "guardduty"
}

// Fetch implements poll.Source.
func (s *GuardDutySource) Fetch(ctx context.Context) ([]poll.Entry, error) {
	detectorID, err := s.detector(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := s.listActive(ctx, detectorID)
	if err != nil {
		return nil, err
	}

	entries := make([]poll.Entry, 0, len(ids))
	for start := 0; start < len(ids); start += getFindingsBatch {
		end := min(start+getFindingsBatch, len(ids))
		out, err := s.client.GetFindings(ctx, &guardduty.GetFindingsInput{
			DetectorId: aws.String(detectorID),
			FindingIds: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get guardduty findings: %w", err)
		}
		for _, f := range out.Findings {
			entry := poll.Entry{ID: aws.ToString(f.Id)}
			entry.Event, entry.Err = Event(f)
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *GuardDutySource) detector(ctx context.Context) (string, error) {
	if s.detectorID != "" {
		return s.detectorID, nil
	}

	out, err := s.client.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list guardduty detectors: %w", err)
	}
	if len(out.DetectorIds) == 0 {
		return "", fmt.Errorf("no guardduty detectors found")
	}
	return out.DetectorIds[0], nil
}

// listActive pages through the ids of findings that are not archived.
func (s *GuardDutySource) listActive(ctx context.Context, detectorID string) ([]string, error) {
	input := &guardduty.ListFindingsInput{
		DetectorId: aws.String(detectorID),
		FindingCriteria: &types.FindingCriteria{
			Criterion: map[string]types.Condition{
				"service.archived": {Eq: []string{"false"}},
			},
		},
		MaxResults: aws.Int32(getFindingsBatch),
	}

	var ids []string
	for {
		out, err := s.client.ListFindings(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list guardduty findings: %w", err)
		}
		ids = append(ids, out.FindingIds...)
		if len(ids) >= s.maxFindings {
			return ids[:s.maxFindings], nil
		}
		if aws.ToString(out.NextToken) == "" {
			return ids, nil
		}
		input.NextToken = out.NextToken
	}
}

// Event renders f in the shape EventBridge delivers GuardDuty findings.
func Event(f types.Finding) ([]byte, error) {
	id := aws.ToString(f.Id)
	if id == "" {
		return nil, fmt.Errorf("guardduty finding has no id")
	}

	detail := map[string]any{
		"id":          id,
		"type":        aws.ToString(f.Type),
		"title":       aws.ToString(f.Title),
		"description": aws.ToString(f.Description),
		"accountId":   aws.ToString(f.AccountId),
		"region":      aws.ToString(f.Region),
		"createdAt":   aws.ToString(f.CreatedAt),
		"updatedAt":   aws.ToString(f.UpdatedAt),
	}
	if f.Severity != nil {
		detail["severity"] = *f.Severity
	}

	resource := map[string]any{}
	if r := f.Resource; r != nil {
		resource["resourceType"] = aws.ToString(r.ResourceType)
		if r.InstanceDetails != nil && r.InstanceDetails.InstanceId != nil {
			resource["instanceDetails"] = map[string]any{
				"instanceId": aws.ToString(r.InstanceDetails.InstanceId),
			}
		}
	}
	detail["resource"] = resource

	if svc := f.Service; svc != nil && svc.EventFirstSeen != nil {
		detail["service"] = map[string]any{
			"eventFirstSeen": aws.ToString(svc.EventFirstSeen),
			"eventLastSeen":  aws.ToString(svc.EventLastSeen),
		}
	}

	return json.Marshal(map[string]any{
		"version":     "0",
		"id":          id,
		"source":      "aws.guardduty",
		"detail-type": "GuardDuty Finding",
		"account":     aws.ToString(f.AccountId),
		"region":      aws.ToString(f.Region),
		"time":        aws.ToString(f.UpdatedAt),
		"detail":      detail,
	})
}
