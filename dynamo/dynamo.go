// Package dynamo manages the target DynamoDB tables: schema creation with
// secondary indexes, readiness waiters, approximate item counts and the
// chunked, retrying batch write pipeline.
package dynamo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/NixM0nk3y/chinook-migrate/config"
	"github.com/NixM0nk3y/chinook-migrate/log"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// tableWaitTimeout bounds how long we wait for a table to become active or
// to finish deleting before surfacing a fatal error.
const tableWaitTimeout = 5 * time.Minute

// Manager wraps the DynamoDB client for the migration's table and write
// operations.
type Manager struct {
	svc        dynamodbiface.DynamoDBAPI
	maxRetries int
	newBackoff func() backoff.BackOff
}

// Option configures a Manager.
type Option func(*Manager)

// WithClient overrides the DynamoDB client, used by tests to substitute a
// fake.
func WithClient(svc dynamodbiface.DynamoDBAPI) Option {
	return func(m *Manager) {
		m.svc = svc
	}
}

// WithMaxRetries overrides the batch write retry ceiling.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		m.maxRetries = n
	}
}

// WithBackoff overrides the backoff policy factory for the batch write
// retry loop.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(m *Manager) {
		m.newBackoff = fn
	}
}

// New builds a Manager for the given region. AWS_ENDPOINT overrides the
// endpoint for local testing against dynamodb-local.
func New(region string, opts ...Option) (*Manager, error) {

	m := &Manager{
		maxRetries: defaultMaxRetries,
		newBackoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.svc == nil {
		cfg := &aws.Config{
			Region:     aws.String(region),
			MaxRetries: aws.Int(5),
			Logger:     &log.AWSLogger{},
			LogLevel:   log.AWSLevel(),
		}

		// override endpoint supplied
		if awsEndpoint := os.Getenv("AWS_ENDPOINT"); awsEndpoint != "" {
			cfg.Endpoint = aws.String(awsEndpoint)
		}

		sess, err := session.NewSession(cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to create aws session: %w", err)
		}

		m.svc = dynamodb.New(sess)
	}

	return m, nil
}

func defaultBackoff() backoff.BackOff {
	expbo := backoff.NewExponentialBackOff()
	expbo.MaxInterval = 1500 * time.Millisecond
	return expbo
}

// EnsureTable creates the physical table for a logical table schema if it
// does not exist. With force set, an existing table is deleted and recreated.
// Returns whether a table was created.
func (m *Manager) EnsureTable(ctx context.Context, name string, schema config.TableSchema, force bool) (bool, error) {

	logger := log.Logger(ctx)

	exists, err := m.tableExists(ctx, name)
	if err != nil {
		return false, err
	}

	if exists {
		if !force {
			return false, nil
		}

		logger.Info("deleting existing table", zap.String("table", name))

		if _, err := m.svc.DeleteTableWithContext(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(name),
		}); err != nil {
			if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
				return false, fmt.Errorf("unable to delete table %s: %w", name, err)
			}
		}

		wctx, cancel := context.WithTimeout(ctx, tableWaitTimeout)
		defer cancel()

		if err := m.svc.WaitUntilTableNotExistsWithContext(wctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(name),
		}); err != nil {
			return false, fmt.Errorf("timed out waiting for table %s to delete: %w", name, err)
		}
	}

	input := buildCreateTableInput(name, schema)

	logger.Info("creating table", zap.String("table", name))

	if _, err := m.svc.CreateTableWithContext(ctx, input); err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceInUseException {
			// lost a race, table exists
			return false, nil
		}
		return false, fmt.Errorf("unable to create table %s: %w", name, err)
	}

	wctx, cancel := context.WithTimeout(ctx, tableWaitTimeout)
	defer cancel()

	if err := m.svc.WaitUntilTableExistsWithContext(wctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	}); err != nil {
		return false, fmt.Errorf("timed out waiting for table %s to become active: %w", name, err)
	}

	return true, nil
}

// ItemCount returns DynamoDB's approximate item count for a table, zero when
// the table does not exist. The count is updated by the service roughly
// every six hours, so treat it as an estimate.
func (m *Manager) ItemCount(ctx context.Context, name string) (int64, error) {

	out, err := m.svc.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
			return 0, nil
		}
		return 0, fmt.Errorf("unable to describe table %s: %w", name, err)
	}

	return aws.Int64Value(out.Table.ItemCount), nil
}

func (m *Manager) tableExists(ctx context.Context, name string) (bool, error) {
	_, err := m.svc.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
			return false, nil
		}
		return false, fmt.Errorf("unable to describe table %s: %w", name, err)
	}
	return true, nil
}

// buildCreateTableInput translates a logical table schema into the create
// request: composite string PK/SK plus any configured GSIs with full
// projection.
func buildCreateTableInput(name string, schema config.TableSchema) *dynamodb.CreateTableInput {

	billingMode := schema.BillingMode
	if billingMode == "" {
		billingMode = dynamodb.BillingModePayPerRequest
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: aws.String(billingMode),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String("SK"), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String("SK"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
	}

	defined := map[string]bool{"PK": true, "SK": true}

	for _, gsi := range schema.GSIs {

		var keySchema []*dynamodb.KeySchemaElement
		for i, key := range gsi.Keys {
			keyType := dynamodb.KeyTypeHash
			if i > 0 {
				keyType = dynamodb.KeyTypeRange
			}
			keySchema = append(keySchema, &dynamodb.KeySchemaElement{
				AttributeName: aws.String(key),
				KeyType:       aws.String(keyType),
			})

			if !defined[key] {
				defined[key] = true
				input.AttributeDefinitions = append(input.AttributeDefinitions, &dynamodb.AttributeDefinition{
					AttributeName: aws.String(key),
					AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
				})
			}
		}

		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, &dynamodb.GlobalSecondaryIndex{
			IndexName: aws.String(gsi.IndexName),
			KeySchema: keySchema,
			Projection: &dynamodb.Projection{
				ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
			},
		})
	}

	return input
}
