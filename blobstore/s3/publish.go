package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentPublish is returned when two conversion hosts race to
// publish the same dataset version.
var ErrConcurrentPublish = errors.New("concurrent publish detected")

// DDBClient is the subset of the DynamoDB API the publisher uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// PublishedStore wraps an S3 store with a DynamoDB publish marker.
//
// S3 offers no transaction across objects, so a reader listing a prefix
// mid-mirror can observe a partial shard set. The marker closes that
// window: trainer processes resolve the latest published version from
// DynamoDB and only read prefixes a conversion host has committed.
// Conditional writes give the compare-and-swap S3 lacks, so concurrent
// conversion hosts cannot silently overwrite each other's publish.
//
// Table schema:
//   - Partition key: dataset_uri (string) - the S3 prefix of the dataset
//   - Sort key: version (number) - monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name wholestore-publishes \
//	  --attribute-definitions AttributeName=dataset_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=dataset_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type PublishedStore struct {
	*Store
	ddbClient  DDBClient
	tableName  string
	datasetURI string
}

// NewPublishedStore wraps store with a publish marker keyed by
// datasetURI, which should be the "s3://bucket/prefix" form of the
// store's root.
func NewPublishedStore(store *Store, ddbClient DDBClient, tableName, datasetURI string) *PublishedStore {
	return &PublishedStore{
		Store:      store,
		ddbClient:  ddbClient,
		tableName:  tableName,
		datasetURI: datasetURI,
	}
}

// Commit records a new published version with a conditional write. It
// satisfies blobstore.Committer, so Mirror runs it after the metadata
// upload. tag is free-form, typically a snapshot id or git revision of
// the partitioning run.
func (s *PublishedStore) Commit(ctx context.Context, tag string) error {
	current, _, err := s.Latest(ctx)
	if err != nil {
		return err
	}

	next := current + 1
	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"dataset_uri": &types.AttributeValueMemberS{Value: s.datasetURI},
			"version":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next)},
			"tag":         &types.AttributeValueMemberS{Value: tag},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentPublish
		}
		return fmt.Errorf("publish version %d: %w", next, err)
	}
	return nil
}

// Latest returns the newest published version and its tag. Version 0
// means nothing has been published yet.
func (s *PublishedStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("dataset_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.datasetURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query publish marker: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute")
	}
	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}

	tag := ""
	if tagAttr, ok := item["tag"].(*types.AttributeValueMemberS); ok {
		tag = tagAttr.Value
	}
	return version, tag, nil
}
