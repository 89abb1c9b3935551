package forward

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"coffee-telemetry/internal/core/fleet"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends every snapshot as one message; the cloud topic travels as
// the "topic" message attribute.
type SQS struct {
	api      sqsAPI
	queueURL string
}

func NewSQS(cfg aws.Config, queueURL string) (*SQS, error) {
	return newSQS(sqs.NewFromConfig(cfg), queueURL)
}

func newSQS(api sqsAPI, queueURL string) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs: empty queue url")
	}
	return &SQS{api: api, queueURL: queueURL}, nil
}

func (s *SQS) Name() string { return "sqs" }

func (s *SQS) Forward(ctx context.Context, topic string, snap fleet.Snapshot) error {
	body, err := Payload(snap)
	if err != nil {
		return err
	}
	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": {DataType: aws.String("String"), StringValue: aws.String(topic)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs: send: %w", err)
	}
	return nil
}
