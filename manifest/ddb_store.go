package manifest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the store uses.
// Satisfied by *dynamodb.Client; narrowed for testability.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBStore keeps the manifest in a DynamoDB table, using conditional writes
// for the compare-and-swap semantics blob stores lack. This makes concurrent
// writers safe: the loser of a commit race gets ErrConcurrentCommit.
//
// Table schema:
//   - Partition key: collection (string)
//   - Sort key: version (number), monotonically increasing
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name mirador-commits \
//	  --attribute-definitions AttributeName=collection,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=collection,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBStore struct {
	client     DDBClient
	tableName  string
	collection string
}

var _ Store = (*DDBStore)(nil)

// NewDDBStore creates a DynamoDB-backed manifest store.
// collection scopes entries so one table can serve many collections.
func NewDDBStore(client DDBClient, tableName, collection string) *DDBStore {
	return &DDBStore{
		client:     client,
		tableName:  tableName,
		collection: collection,
	}
}

// Latest queries for the highest committed version.
func (s *DDBStore) Latest(ctx context.Context) (Entry, error) {
	// "collection" is a DynamoDB reserved word; it must be aliased through
	// ExpressionAttributeNames or the service rejects the expression.
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{
			"#c": "collection",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: s.collection},
		},
		ScanIndexForward: aws.Bool(false), // descending: newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("manifest: query dynamodb: %w", err)
	}
	if len(resp.Items) == 0 {
		return Entry{}, ErrNotFound
	}
	return decodeItem(resp.Items[0])
}

// Commit assigns the next version and writes it with a conditional put, so
// two writers racing on the same version cannot both succeed.
func (s *DDBStore) Commit(ctx context.Context, e Entry) (Entry, error) {
	latest, err := s.Latest(ctx)
	switch {
	case err == nil:
		e.Version = latest.Version + 1
	case errors.Is(err, ErrNotFound):
		e.Version = 1
	default:
		return Entry{}, err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                encodeItem(s.collection, e),
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return Entry{}, ErrConcurrentCommit
		}
		return Entry{}, fmt.Errorf("manifest: commit to dynamodb: %w", err)
	}
	return e, nil
}

func encodeItem(collection string, e Entry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(e.Version, 10)},
		"snapshot":   &types.AttributeValueMemberS{Value: e.Snapshot},
		"created_at": &types.AttributeValueMemberS{Value: e.CreatedAt.Format(time.RFC3339Nano)},
		"strategy":   &types.AttributeValueMemberS{Value: e.Strategy},
		"metric":     &types.AttributeValueMemberS{Value: e.Metric},
		"dimension":  &types.AttributeValueMemberN{Value: strconv.Itoa(e.Dimension)},
		"count":      &types.AttributeValueMemberN{Value: strconv.Itoa(e.Count)},
	}
}

func decodeItem(item map[string]types.AttributeValue) (Entry, error) {
	var e Entry

	version, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return Entry{}, errors.New("manifest: invalid version attribute")
	}
	v, err := strconv.ParseUint(version.Value, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("manifest: parse version: %w", err)
	}
	e.Version = v

	if snap, ok := item["snapshot"].(*types.AttributeValueMemberS); ok {
		e.Snapshot = snap.Value
	}
	if created, ok := item["created_at"].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, created.Value); err == nil {
			e.CreatedAt = ts
		}
	}
	if strategy, ok := item["strategy"].(*types.AttributeValueMemberS); ok {
		e.Strategy = strategy.Value
	}
	if metric, ok := item["metric"].(*types.AttributeValueMemberS); ok {
		e.Metric = metric.Value
	}
	if dim, ok := item["dimension"].(*types.AttributeValueMemberN); ok {
		if d, err := strconv.Atoi(dim.Value); err == nil {
			e.Dimension = d
		}
	}
	if count, ok := item["count"].(*types.AttributeValueMemberN); ok {
		if c, err := strconv.Atoi(count.Value); err == nil {
			e.Count = c
		}
	}

	return e, nil
}
