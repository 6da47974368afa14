package dynamo

import (
	"context"
	"fmt"
	"testing"

	"github.com/NixM0nk3y/chinook-migrate/config"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo scripts BatchWriteItem responses and records table lifecycle
// calls. The zero value acknowledges every write in full.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	batchCalls []int
	// batchFn overrides the response for the nth call (0 based)
	batchFn func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)

	tables  map[string]*dynamodb.TableDescription
	created []string
	deleted []string
}

func (f *fakeDynamo) BatchWriteItemWithContext(ctx aws.Context, in *dynamodb.BatchWriteItemInput, opts ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {

	call := len(f.batchCalls)
	for _, reqs := range in.RequestItems {
		f.batchCalls = append(f.batchCalls, len(reqs))
	}

	if f.batchFn != nil {
		return f.batchFn(call, in)
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTableWithContext(ctx aws.Context, in *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	desc, ok := f.tables[aws.StringValue(in.TableName)]
	if !ok {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "not found", nil)
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

func (f *fakeDynamo) CreateTableWithContext(ctx aws.Context, in *dynamodb.CreateTableInput, opts ...request.Option) (*dynamodb.CreateTableOutput, error) {
	name := aws.StringValue(in.TableName)
	f.created = append(f.created, name)
	if f.tables == nil {
		f.tables = map[string]*dynamodb.TableDescription{}
	}
	f.tables[name] = &dynamodb.TableDescription{TableName: in.TableName}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DeleteTableWithContext(ctx aws.Context, in *dynamodb.DeleteTableInput, opts ...request.Option) (*dynamodb.DeleteTableOutput, error) {
	name := aws.StringValue(in.TableName)
	f.deleted = append(f.deleted, name)
	delete(f.tables, name)
	return &dynamodb.DeleteTableOutput{}, nil
}

func (f *fakeDynamo) WaitUntilTableExistsWithContext(ctx aws.Context, in *dynamodb.DescribeTableInput, opts ...request.WaiterOption) error {
	return nil
}

func (f *fakeDynamo) WaitUntilTableNotExistsWithContext(ctx aws.Context, in *dynamodb.DescribeTableInput, opts ...request.WaiterOption) error {
	return nil
}

func testManager(t *testing.T, f *fakeDynamo) *Manager {
	t.Helper()
	m, err := New("us-east-1",
		WithClient(f),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)
	return m
}

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			"PK": {S: aws.String(fmt.Sprintf("ARTIST#%d", i+1))},
			"SK": {S: aws.String("METADATA")},
		}
	}
	return items
}

func TestBatchWriteChunksAtProtocolLimit(t *testing.T) {

	f := &fakeDynamo{}
	m := testManager(t, f)

	err := m.BatchWrite(context.Background(), "chinook-music-catalog", testItems(60))
	require.NoError(t, err)

	assert.Equal(t, []int{25, 25, 10}, f.batchCalls)
}

func TestBatchWriteEmptyInput(t *testing.T) {

	f := &fakeDynamo{}
	m := testManager(t, f)

	require.NoError(t, m.BatchWrite(context.Background(), "chinook-music-catalog", nil))
	assert.Empty(t, f.batchCalls)
}

func TestBatchWriteRetriesUnprocessedSubset(t *testing.T) {

	const table = "chinook-music-catalog"

	f := &fakeDynamo{}
	f.batchFn = func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		if call == 0 {
			// push back the last 3 requests of the first attempt
			reqs := in.RequestItems[table]
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]*dynamodb.WriteRequest{
					table: reqs[len(reqs)-3:],
				},
			}, nil
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	m := testManager(t, f)

	err := m.BatchWrite(context.Background(), table, testItems(10))
	require.NoError(t, err)

	assert.Equal(t, []int{10, 3}, f.batchCalls)
}

func TestBatchWriteBacksOffOnThrottle(t *testing.T) {

	f := &fakeDynamo{}
	f.batchFn = func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		if call < 2 {
			return nil, awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	m := testManager(t, f)

	err := m.BatchWrite(context.Background(), "chinook-music-catalog", testItems(5))
	require.NoError(t, err)

	// the full chunk retries intact after each throttle
	assert.Equal(t, []int{5, 5, 5}, f.batchCalls)
}

func TestBatchWriteNonRetryableErrorIsFatal(t *testing.T) {

	f := &fakeDynamo{}
	f.batchFn = func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return nil, awserr.New("ValidationException", "item too large", nil)
	}
	m := testManager(t, f)

	err := m.BatchWrite(context.Background(), "chinook-music-catalog", testItems(5))
	require.Error(t, err)

	assert.Equal(t, []int{5}, f.batchCalls)
}

func TestBatchWriteRetryCeiling(t *testing.T) {

	f := &fakeDynamo{}
	f.batchFn = func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return nil, awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
	}
	m, err := New("us-east-1",
		WithClient(f),
		WithMaxRetries(2),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	err = m.BatchWrite(context.Background(), "chinook-music-catalog", testItems(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	assert.Equal(t, []int{5, 5, 5}, f.batchCalls)
}

func TestBatchWritePersistentUnprocessedHitsCeiling(t *testing.T) {

	const table = "chinook-music-catalog"

	f := &fakeDynamo{}
	f.batchFn = func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return &dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]*dynamodb.WriteRequest{
				table: in.RequestItems[table],
			},
		}, nil
	}
	m, err := New("us-east-1",
		WithClient(f),
		WithMaxRetries(2),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	err = m.BatchWrite(context.Background(), table, testItems(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestEnsureTableCreatesMissing(t *testing.T) {

	f := &fakeDynamo{}
	m := testManager(t, f)

	created, err := m.EnsureTable(context.Background(), "chinook-playlists", config.TableSchema{}, false)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, []string{"chinook-playlists"}, f.created)
	assert.Empty(t, f.deleted)
}

func TestEnsureTableKeepsExisting(t *testing.T) {

	f := &fakeDynamo{tables: map[string]*dynamodb.TableDescription{
		"chinook-playlists": {TableName: aws.String("chinook-playlists")},
	}}
	m := testManager(t, f)

	created, err := m.EnsureTable(context.Background(), "chinook-playlists", config.TableSchema{}, false)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Empty(t, f.created)
}

func TestEnsureTableForceRecreates(t *testing.T) {

	f := &fakeDynamo{tables: map[string]*dynamodb.TableDescription{
		"chinook-playlists": {TableName: aws.String("chinook-playlists")},
	}}
	m := testManager(t, f)

	created, err := m.EnsureTable(context.Background(), "chinook-playlists", config.TableSchema{}, true)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, []string{"chinook-playlists"}, f.deleted)
	assert.Equal(t, []string{"chinook-playlists"}, f.created)
}

func TestItemCount(t *testing.T) {

	f := &fakeDynamo{tables: map[string]*dynamodb.TableDescription{
		"chinook-playlists": {
			TableName: aws.String("chinook-playlists"),
			ItemCount: aws.Int64(18),
		},
	}}
	m := testManager(t, f)

	n, err := m.ItemCount(context.Background(), "chinook-playlists")
	require.NoError(t, err)
	assert.Equal(t, int64(18), n)

	n, err = m.ItemCount(context.Background(), "no-such-table")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBuildCreateTableInput(t *testing.T) {

	schema := config.TableSchema{
		BillingMode: "PAY_PER_REQUEST",
		GSIs: []config.GSI{
			{IndexName: "GSI1-NameSearch", Keys: []string{"GSI1PK", "GSI1SK"}},
			{IndexName: "GSI2-GenreSearch", Keys: []string{"GSI2PK"}},
		},
	}

	input := buildCreateTableInput("chinook-music-catalog", schema)

	assert.Equal(t, "chinook-music-catalog", aws.StringValue(input.TableName))
	assert.Equal(t, dynamodb.BillingModePayPerRequest, aws.StringValue(input.BillingMode))

	require.Len(t, input.KeySchema, 2)
	assert.Equal(t, "PK", aws.StringValue(input.KeySchema[0].AttributeName))
	assert.Equal(t, dynamodb.KeyTypeHash, aws.StringValue(input.KeySchema[0].KeyType))
	assert.Equal(t, "SK", aws.StringValue(input.KeySchema[1].AttributeName))
	assert.Equal(t, dynamodb.KeyTypeRange, aws.StringValue(input.KeySchema[1].KeyType))

	// PK, SK plus the three distinct index key attributes
	assert.Len(t, input.AttributeDefinitions, 5)

	require.Len(t, input.GlobalSecondaryIndexes, 2)
	gsi1 := input.GlobalSecondaryIndexes[0]
	assert.Equal(t, "GSI1-NameSearch", aws.StringValue(gsi1.IndexName))
	require.Len(t, gsi1.KeySchema, 2)
	assert.Equal(t, dynamodb.KeyTypeHash, aws.StringValue(gsi1.KeySchema[0].KeyType))
	assert.Equal(t, dynamodb.KeyTypeRange, aws.StringValue(gsi1.KeySchema[1].KeyType))
	assert.Equal(t, dynamodb.ProjectionTypeAll, aws.StringValue(gsi1.Projection.ProjectionType))

	gsi2 := input.GlobalSecondaryIndexes[1]
	require.Len(t, gsi2.KeySchema, 1)
	assert.Equal(t, dynamodb.KeyTypeHash, aws.StringValue(gsi2.KeySchema[0].KeyType))
}

func TestRetryable(t *testing.T) {

	assert.True(t, retryable(awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "", nil)))
	assert.True(t, retryable(awserr.New(dynamodb.ErrCodeRequestLimitExceeded, "", nil)))
	assert.True(t, retryable(awserr.New("ThrottlingException", "", nil)))
	assert.False(t, retryable(awserr.New("ValidationException", "", nil)))
	assert.False(t, retryable(fmt.Errorf("plain error")))
}
