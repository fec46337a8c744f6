package s3

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/wholestore/blobstore"
)

var _ blobstore.Committer = (*PublishedStore)(nil)

// mockDDBClient is an in-memory DynamoDB fake covering the conditional
// write and the latest-version query.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // dataset_uri:version -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uri := params.Item["dataset_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := uri + ":" + version

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uri := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["dataset_uri"].(*types.AttributeValueMemberS).Value == uri {
			items = append(items, item)
		}
	}
	// Descending by numeric version, matching ScanIndexForward=false.
	sort.Slice(items, func(i, j int) bool {
		vi := items[i]["version"].(*types.AttributeValueMemberN).Value
		vj := items[j]["version"].(*types.AttributeValueMemberN).Value
		if len(vi) != len(vj) {
			return len(vi) > len(vj)
		}
		return vi > vj
	})
	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

// staleQueryDDB simulates a racing publisher: queries see an empty
// history while the table already holds a version.
type staleQueryDDB struct {
	*mockDDBClient
}

func (m *staleQueryDDB) Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func newPublishedStore(ddb DDBClient) *PublishedStore {
	store := NewStore(new(MockS3Client), "bucket", "datasets/papers/wholegraph")
	return NewPublishedStore(store, ddb, "wholestore-publishes", "s3://bucket/datasets/papers")
}

func TestPublishedStoreCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	ps := newPublishedStore(ddb)

	version, tag, err := ps.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, version)
	assert.Empty(t, tag)

	require.NoError(t, ps.Commit(ctx, "snapshot-a"))
	version, tag, err = ps.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "snapshot-a", tag)

	require.NoError(t, ps.Commit(ctx, "snapshot-b"))
	version, tag, err = ps.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.Equal(t, "snapshot-b", tag)
}

func TestPublishedStoreConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	require.NoError(t, newPublishedStore(ddb).Commit(ctx, "winner"))

	// A second host that read the history before the first publish landed
	// must fail the conditional write, not overwrite the version.
	stale := newPublishedStore(&staleQueryDDB{mockDDBClient: ddb})
	err := stale.Commit(ctx, "loser")
	require.ErrorIs(t, err, ErrConcurrentPublish)

	version, tag, err := newPublishedStore(ddb).Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "winner", tag)
}

func TestPublishedStoreIsolatesDatasets(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	a := NewPublishedStore(NewStore(new(MockS3Client), "bucket", "a/wholegraph"), ddb, "wholestore-publishes", "s3://bucket/a")
	b := NewPublishedStore(NewStore(new(MockS3Client), "bucket", "b/wholegraph"), ddb, "wholestore-publishes", "s3://bucket/b")

	require.NoError(t, a.Commit(ctx, "a1"))
	require.NoError(t, a.Commit(ctx, "a2"))
	require.NoError(t, b.Commit(ctx, "b1"))

	version, _, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	version, tag, err := b.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "b1", tag)
}
