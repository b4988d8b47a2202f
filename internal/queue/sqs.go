// Package queue publishes usage records to SQS for downstream billing and
// analytics consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

// maxBatchEntries is the SQS SendMessageBatch limit.
const maxBatchEntries = 10

// SQSAPI is the subset of the SQS client used by the publisher.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

type SQSUsagePublisher struct {
	client   SQSAPI
	queueURL string
}

func NewSQSUsagePublisher(client SQSAPI, queueURL string) *SQSUsagePublisher {
	return &SQSUsagePublisher{client: client, queueURL: queueURL}
}

func NewSQSUsagePublisherWithConfig(cfg aws.Config, queueURL string) *SQSUsagePublisher {
	return NewSQSUsagePublisher(sqs.NewFromConfig(cfg), queueURL)
}

// RecordBatch publishes records in chunks of ten. Entries rejected by SQS
// are logged and reported as an error after all chunks are sent.
func (p *SQSUsagePublisher) RecordBatch(ctx context.Context, records []domain.UsageRecord) error {
	failed := 0
	for start := 0; start < len(records); start += maxBatchEntries {
		end := min(start+maxBatchEntries, len(records))

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, record := range records[start:end] {
			body, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal usage record: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(string(body)),
				MessageAttributes: map[string]types.MessageAttributeValue{
					"TenantID": {
						DataType:    aws.String("String"),
						StringValue: aws.String(tenantAttr(record.TenantID)),
					},
					"KeyType": {
						DataType:    aws.String("String"),
						StringValue: aws.String(string(record.KeyType)),
					},
				},
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("send message batch: %w", err)
		}
		for _, f := range out.Failed {
			slog.Warn("usage message rejected",
				"entry", aws.ToString(f.Id),
				"code", aws.ToString(f.Code),
				"error", aws.ToString(f.Message),
			)
		}
		failed += len(out.Failed)
	}

	if failed > 0 {
		return fmt.Errorf("sqs rejected %d usage records", failed)
	}
	return nil
}

// SQS rejects empty string attribute values.
func tenantAttr(tenantID string) string {
	if tenantID == "" {
		return "-"
	}
	return tenantID
}
