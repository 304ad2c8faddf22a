package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/raterudder/autopilot/pkg/log"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes notifications to an AWS SNS topic.
type SNS struct {
	svc      snsPublisher
	topicARN string
}

// NewSNS loads the default AWS config for region and returns an SNS
// notifier.
func NewSNS(ctx context.Context, region, topicARN string) (*SNS, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &SNS{
		svc:      sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

func (s *SNS) Notify(ctx context.Context, e Event) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(e.Title),
		Message:  aws.String(e.Message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(e.Kind)),
			},
			"homeID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.HomeID),
			},
		},
	}

	result, err := s.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "published notification to SNS", slog.String("messageID", aws.ToString(result.MessageId)))
	return nil
}
