// Package sqsnotif sends run results to an SQS queue.
package sqsnotif

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jamox/tmc-sandbox/api"
)

type Notifier struct {
	sqsClient *sqs.Client
	queueUrl  string
}

func New(ctx context.Context, queueUrl string, region string) (*Notifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &Notifier{
		sqsClient: sqs.NewFromConfig(cfg),
		queueUrl:  queueUrl,
	}, nil
}

func (n *Notifier) Notify(msg api.Notification) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = n.sqsClient.SendMessage(context.TODO(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("failed to send notification to SQS: %w", err)
	}
	return nil
}
