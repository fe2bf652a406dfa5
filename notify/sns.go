package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/zero-day-ai/responder/responderr"
)

// SNSAPI is the subset of the SNS client the channel uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel publishes to an SNS topic.
type SNSChannel struct {
	client   SNSAPI
	topicARN string
}

// NewSNSChannel creates a channel for topicARN.
func NewSNSChannel(client SNSAPI, topicARN string) (*SNSChannel, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("sns topic arn is required")
	}
	return &SNSChannel{client: client, topicARN: topicARN}, nil
}

// Name implements Channel.
func (c *SNSChannel) Name() string {
	return "sns"
}

// Publish implements Channel.
func (c *SNSChannel) Publish(ctx context.Context, msg Message) (string, error) {
	out, err := c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(msg.Subject),
		Message:  aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"finding_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.FindingID),
			},
			"severity": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatFloat(msg.Severity, 'f', -1, 64)),
			},
		},
	})
	if err != nil {
		return "", c.classify(err)
	}
	return aws.ToString(out.MessageId), nil
}

// classify wraps publish failures as NOTIFICATION_DELIVERY errors. Requests
// SNS rejected as invalid or unauthorized are permanent; throttling, server
// faults and network failures stay retryable.
func (c *SNSChannel) classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return responderr.NotificationDelivery(c.Name(), err)
	}

	werr := responderr.NotificationDelivery(c.Name(),
		fmt.Errorf("sns %s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err))
	if apiErr.ErrorFault() == smithy.FaultClient && !throttled(apiErr.ErrorCode()) {
		werr = werr.WithClass(responderr.ErrorClassPermanent)
	}
	return werr
}

func throttled(code string) bool {
	switch code {
	case "Throttled", "Throttling", "ThrottlingException", "RequestThrottled", "TooManyRequestsException":
		return true
	}
	return false
}

// Close is a no-op.
func (c *SNSChannel) Close() error {
	return nil
}
