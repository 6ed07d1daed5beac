package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoTable
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoTable stores rows in a DynamoDB table keyed by id (partition) and version (sort)
type DynamoTable struct {
	client    DynamoAPI
	tableName string
}

func NewDynamoTable(client DynamoAPI, tableName string) *DynamoTable {
	return &DynamoTable{
		client:    client,
		tableName: tableName,
	}
}

// Put writes one row. Without IfNotExists an existing row is overwritten.
func (t *DynamoTable) Put(ctx context.Context, item Item, opts ...PutOption) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      av,
	}
	if ApplyPutOptions(opts).IfNotExists {
		input.ConditionExpression = aws.String("attribute_not_exists(#id) AND attribute_not_exists(#version)")
		input.ExpressionAttributeNames = map[string]string{
			"#id":      PartitionKey,
			"#version": SortKey,
		}
	}

	if _, err := t.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("failed to put item into %s: %w", t.tableName, ErrConditionFailed)
		}
		return fmt.Errorf("failed to put item into %s: %w", t.tableName, err)
	}
	return nil
}

// Query reads one partition, following pagination unless a limit is set
func (t *DynamoTable) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	keyCondition := "#id = :id"
	names := map[string]string{"#id": PartitionKey}
	values := map[string]types.AttributeValue{
		":id": &types.AttributeValueMemberS{Value: in.PartitionValue},
	}
	if in.SortKey != nil {
		keyCondition += " AND #version " + in.SortKey.Op + " :version"
		names["#version"] = SortKey
		values[":version"] = &types.AttributeValueMemberN{Value: strconv.Itoa(in.SortKey.Value)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.tableName),
		KeyConditionExpression:    aws.String(keyCondition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!in.Descending),
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}
	return t.query(ctx, input, in.Limit)
}

// QueryIndex reads rows through a global secondary index on the table
func (t *DynamoTable) QueryIndex(ctx context.Context, in IndexQueryInput) ([]Item, error) {
	value, err := attributevalue.Marshal(in.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index value: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.tableName),
		IndexName:                 aws.String(in.IndexName),
		KeyConditionExpression:    aws.String("#key = :value"),
		ExpressionAttributeNames:  map[string]string{"#key": in.Attribute},
		ExpressionAttributeValues: map[string]types.AttributeValue{":value": value},
		ScanIndexForward:          aws.Bool(!in.Descending),
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}
	return t.query(ctx, input, in.Limit)
}

func (t *DynamoTable) query(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]Item, error) {
	var items []Item
	for {
		result, err := t.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", t.tableName, err)
		}

		for _, raw := range result.Items {
			var item map[string]any
			if err := attributevalue.UnmarshalMapWithOptions(raw, &item, func(o *attributevalue.DecoderOptions) {
				o.UseNumber = true
			}); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item from %s: %w", t.tableName, err)
			}
			items = append(items, Item(jsonNumbers(item).(map[string]any)))
		}

		if limit > 0 || len(result.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// jsonNumbers rewrites decoded attributevalue.Number values as json.Number,
// the number type every other provider yields.
func jsonNumbers(v any) any {
	switch n := v.(type) {
	case attributevalue.Number:
		return json.Number(n)
	case []attributevalue.Number:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = json.Number(e)
		}
		return out
	case map[string]any:
		for k, e := range n {
			n[k] = jsonNumbers(e)
		}
		return n
	case []any:
		for i, e := range n {
			n[i] = jsonNumbers(e)
		}
		return n
	default:
		return v
	}
}

// DynamoProvider resolves logical table names to existing DynamoDB tables.
// Physical names are the logical names with Prefix prepended.
type DynamoProvider struct {
	Client DynamoAPI
	Prefix string
}

func NewDynamoProvider(client DynamoAPI, prefix string) *DynamoProvider {
	return &DynamoProvider{Client: client, Prefix: prefix}
}

// Tables verifies each table exists and is usable before handing it out
func (p *DynamoProvider) Tables(ctx context.Context, names ...string) (map[string]Table, error) {
	out := make(map[string]Table, len(names))
	for _, name := range names {
		physical := p.Prefix + name
		desc, err := p.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(physical),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe table %s: %w", physical, err)
		}
		if desc.Table != nil && desc.Table.TableStatus == types.TableStatusDeleting {
			return nil, fmt.Errorf("table %s is being deleted", physical)
		}
		out[name] = NewDynamoTable(p.Client, physical)
	}
	return out, nil
}
