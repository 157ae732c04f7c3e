// Package queue provides the SQS-based billing event producer that fans
// lifecycle and reconciliation events out to downstream workers (receipt
// mails, analytics).
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"fitpass/internal/config"
	"fitpass/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// BillingMetrics counts published event types for dashboards and alarms.
// Implemented by metrics.CloudWatchCollector; may be nil.
type BillingMetrics interface {
	RecordBillingEvent(event string)
}

// BillingEventPublisher serializes types.BillingEvent messages onto the
// billing event queue and counts each event type as a metric. Publishing is
// best-effort: the ledger row is the source of truth, so a send failure is
// logged, never propagated to the operation that raised the event.
type BillingEventPublisher struct {
	client   SQSSender
	queueURL string
	metrics  BillingMetrics
	logger   *slog.Logger
}

// NewBillingEventPublisher creates a publisher reading the queue URL from the
// AWS configuration.
func NewBillingEventPublisher(client SQSSender, awsCfg config.AWSConfig, metrics BillingMetrics, logger *slog.Logger) *BillingEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingEventPublisher{
		client:   client,
		queueURL: awsCfg.BillingEventQueue,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish sends one billing event. Implements billing.EventPublisher.
func (p *BillingEventPublisher) Publish(ctx context.Context, event types.BillingEvent) {
	if p.metrics != nil {
		p.metrics.RecordBillingEvent(string(event.Type))
	}

	if p.client == nil || p.queueURL == "" {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal billing event",
			"type", string(event.Type),
			"user_id", event.UserID,
			"error", err,
		)
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish billing event",
			"queue_url", p.queueURL,
			"type", string(event.Type),
			"user_id", event.UserID,
			"error", err,
		)
		return
	}

	p.logger.InfoContext(ctx, "billing event published",
		"type", string(event.Type),
		"user_id", event.UserID,
		"trade_id", event.TradeID,
		"trace_id", event.TraceID,
	)
}
