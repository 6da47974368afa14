package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/NixM0nk3y/chinook-migrate/log"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"
)

// maxBatchWriteItems is the BatchWriteItem protocol limit. Chunking happens
// at this size regardless of the configured flush size.
const maxBatchWriteItems = 25

// defaultMaxRetries bounds retries per chunk for throttling and partial
// writes before the whole write call fails.
const defaultMaxRetries = 5

// ErrRetriesExhausted reports a chunk that still had unprocessed items after
// the retry ceiling.
var ErrRetriesExhausted = errors.New("batch write retries exhausted")

// Item is one DynamoDB item in the SDK's typed attribute representation.
type Item = map[string]*dynamodb.AttributeValue

// BatchWrite writes items to a table in protocol-sized chunks. Partial
// failures retry only the unprocessed subset; throttling retries with
// exponential backoff up to the retry ceiling; any other service error is
// fatal immediately. On nil return every input item has been acknowledged
// by the target at least once.
func (m *Manager) BatchWrite(ctx context.Context, table string, items []Item) error {

	logger := log.Logger(ctx)

	for start := 0; start < len(items); start += maxBatchWriteItems {

		end := start + maxBatchWriteItems
		if end > len(items) {
			end = len(items)
		}

		chunk := items[start:end]

		writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
		for i := range chunk {
			writeRequests[i] = &dynamodb.WriteRequest{
				PutRequest: &dynamodb.PutRequest{Item: chunk[i]},
			}
		}

		boff := m.newBackoff()
		retries := 0

		for {
			result, writeErr := m.svc.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]*dynamodb.WriteRequest{
					table: writeRequests,
				},
			})

			if writeErr != nil {
				if !retryable(writeErr) {
					return fmt.Errorf("batch write to %s failed: %w", table, writeErr)
				}

				logger.Warn("throughput error, backing off",
					zap.String("table", table), zap.Int("retries", retries), zap.Error(writeErr))

				retries++
				if retries > m.maxRetries {
					return fmt.Errorf("batch write to %s: %w", table, ErrRetriesExhausted)
				}
				if err := aws.SleepWithContext(ctx, boff.NextBackOff()); err != nil {
					return fmt.Errorf("batch write to %s interrupted: %w", table, err)
				}
				continue
			}

			unprocessed := result.UnprocessedItems[table]
			if len(unprocessed) == 0 {
				break
			}

			logger.Info("partial write detected",
				zap.String("table", table),
				zap.Int("items", len(writeRequests)),
				zap.Int("unprocessed", len(unprocessed)))

			// retry only the subset the service rejected
			writeRequests = unprocessed

			retries++
			if retries > m.maxRetries {
				return fmt.Errorf("batch write to %s: %w", table, ErrRetriesExhausted)
			}
			if err := aws.SleepWithContext(ctx, boff.NextBackOff()); err != nil {
				return fmt.Errorf("batch write to %s interrupted: %w", table, err)
			}
		}
	}

	return nil
}

// retryable reports whether the error is a transient capacity condition.
// Anything else (malformed item, missing table, permissions) is fatal.
func retryable(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException,
		dynamodb.ErrCodeRequestLimitExceeded,
		"ThrottlingException":
		return true
	}
	return false
}
