package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI is the subset of the SSM client used by SSMStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMStore keeps each record as a JSON String parameter under a path prefix
// in SSM Parameter Store.
//
// Parameter Store has no compare-and-swap on existing parameters. A record
// is created with Overwrite=false so two first sightings cannot both write
// it, and an upsert that sets no status never rewrites an existing record,
// so a redelivered event cannot put back a status it read before a
// concurrent resolve. Two concurrent status changes remain last-write-wins.
type SSMStore struct {
	client SSMAPI
	prefix string
}

// NewSSMStore creates a store. An empty prefix defaults to "/security/advisories".
func NewSSMStore(client SSMAPI, prefix string) *SSMStore {
	if prefix == "" {
		prefix = "/security/advisories"
	}
	return &SSMStore{client: client, prefix: strings.TrimRight(prefix, "/")}
}

func (s *SSMStore) name(findingID string) string {
	return fmt.Sprintf("%s/%s", s.prefix, findingID)
}

// Upsert merges fields into the record for findingID.
func (s *SSMStore) Upsert(ctx context.Context, findingID string, fields Fields) error {
	existing, err := s.Get(ctx, findingID)
	if err != nil {
		return err
	}

	if existing == nil {
		err := s.put(ctx, findingID, Merge(nil, findingID, fields), false)
		var exists *types.ParameterAlreadyExists
		if !errors.As(err, &exists) {
			return err
		}
		if existing, err = s.Get(ctx, findingID); err != nil {
			return err
		}
	}

	if fields.Status == "" && fields.PreviousGroups == nil {
		return nil
	}
	return s.put(ctx, findingID, Merge(existing, findingID, fields), true)
}

func (s *SSMStore) put(ctx context.Context, findingID string, rec AdvisoryRecord, overwrite bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal advisory %s: %w", findingID, err)
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.name(findingID)),
		Value:     aws.String(string(data)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", s.name(findingID), err)
	}
	return nil
}

// Get returns the record for findingID, or nil.
func (s *SSMStore) Get(ctx context.Context, findingID string) (*AdvisoryRecord, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.name(findingID)),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parameter %s: %w", s.name(findingID), err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, nil
	}

	var rec AdvisoryRecord
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode parameter %s: %w", s.name(findingID), err)
	}
	if rec.FindingID == "" {
		rec.FindingID = findingID
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	return &rec, nil
}

// Close is a no-op; the SSM client holds no connections that need releasing.
func (s *SSMStore) Close() error {
	return nil
}
