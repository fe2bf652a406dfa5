package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/zero-day-ai/responder/responderr"
)

// EC2API is the subset of the EC2 client the controller uses.
// *ec2.Client satisfies it.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// EC2Controller isolates instances by replacing their security groups with
// a single quarantine group that allows no traffic.
type EC2Controller struct {
	client          EC2API
	quarantineGroup string
	logger          *slog.Logger
}

// NewEC2Controller creates an EC2Controller. quarantineGroupID must name an
// existing deny-all security group in the instances' VPC.
func NewEC2Controller(client EC2API, quarantineGroupID string, logger *slog.Logger) (*EC2Controller, error) {
	if client == nil {
		return nil, fmt.Errorf("ec2 client is required")
	}
	if quarantineGroupID == "" {
		return nil, fmt.Errorf("quarantine security group is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EC2Controller{
		client:          client,
		quarantineGroup: quarantineGroupID,
		logger:          logger,
	}, nil
}

// Name implements Controller.
func (c *EC2Controller) Name() string {
	return "ec2"
}

// Isolate implements Controller.
func (c *EC2Controller) Isolate(ctx context.Context, ref string) (Result, error) {
	instanceID := strings.TrimPrefix(ref, ec2Prefix)
	if !strings.HasPrefix(instanceID, "i-") {
		return Result{}, responderr.UnsupportedResource(ref, "not an EC2 instance id")
	}

	instance, err := c.describe(ctx, ref, instanceID)
	if err != nil {
		return Result{}, err
	}

	if isolated(instance, c.quarantineGroup) {
		c.logger.Debug("instance already isolated", "instance_id", instanceID)
		return Result{ResourceRef: ref, AlreadyIsolated: true}, nil
	}

	_, err = c.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Groups:     []string{c.quarantineGroup},
	})
	if err != nil {
		return Result{}, classifyEC2Error(ref, err)
	}

	previous := groupIDs(instance)
	c.logger.Info("instance moved to quarantine group",
		"instance_id", instanceID,
		"previous_groups", previous,
		"quarantine_group", c.quarantineGroup,
	)
	return Result{ResourceRef: ref, PreviousGroups: previous}, nil
}

// Release implements Releaser. It puts back the security groups the
// instance had before Isolate. An instance that is no longer in quarantine
// is left alone.
func (c *EC2Controller) Release(ctx context.Context, ref string, previousGroups []string) (Result, error) {
	instanceID := strings.TrimPrefix(ref, ec2Prefix)
	if !strings.HasPrefix(instanceID, "i-") {
		return Result{}, responderr.UnsupportedResource(ref, "not an EC2 instance id")
	}
	if len(previousGroups) == 0 {
		return Result{}, responderr.RemediationRejected(ref, fmt.Errorf("no previous security groups recorded for %s", instanceID))
	}

	instance, err := c.describe(ctx, ref, instanceID)
	if err != nil {
		return Result{}, err
	}
	if !isolated(instance, c.quarantineGroup) {
		c.logger.Debug("instance not in quarantine", "instance_id", instanceID, "groups", groupIDs(instance))
		return Result{ResourceRef: ref}, nil
	}

	_, err = c.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Groups:     previousGroups,
	})
	if err != nil {
		return Result{}, classifyEC2Error(ref, err)
	}

	c.logger.Info("instance released from quarantine group",
		"instance_id", instanceID,
		"restored_groups", previousGroups,
	)
	return Result{ResourceRef: ref, PreviousGroups: previousGroups}, nil
}

func (c *EC2Controller) describe(ctx context.Context, ref, instanceID string) (*types.Instance, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, classifyEC2Error(ref, err)
	}

	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			instance := &reservation.Instances[i]
			if aws.ToString(instance.InstanceId) != instanceID {
				continue
			}
			if instance.State != nil && instance.State.Name == types.InstanceStateNameTerminated {
				return nil, responderr.ResourceNotFound(ref, fmt.Errorf("instance %s is terminated", instanceID))
			}
			return instance, nil
		}
	}
	return nil, responderr.ResourceNotFound(ref, nil)
}

func isolated(instance *types.Instance, quarantineGroup string) bool {
	groups := groupIDs(instance)
	return len(groups) == 1 && groups[0] == quarantineGroup
}

func groupIDs(instance *types.Instance) []string {
	ids := make([]string, 0, len(instance.SecurityGroups))
	for _, g := range instance.SecurityGroups {
		ids = append(ids, aws.ToString(g.GroupId))
	}
	return ids
}

// classifyEC2Error maps EC2 API failures onto the remediation error codes.
func classifyEC2Error(ref string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
			return responderr.ResourceNotFound(ref, err)
		case "RequestLimitExceeded", "Throttling", "ThrottlingException", "RequestThrottled",
			"InternalError", "InternalFailure", "ServiceUnavailable", "Unavailable":
			return responderr.TransientRemediation(ref, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return responderr.TransientRemediation(ref, err)
		}
		return responderr.RemediationRejected(ref, err)
	}

	// No API response: timeouts, DNS and connection failures.
	return responderr.TransientRemediation(ref, err)
}
