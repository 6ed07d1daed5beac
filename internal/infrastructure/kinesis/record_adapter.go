package kinesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/example/sourced-repo/internal/infrastructure/store"
)

const eventTableSuffix = "events"

// StreamRecord is an event row inserted into an entity's event table
type StreamRecord struct {
	Table string      `json:"table"`
	Event store.Event `json:"event"`
}

// EntityType returns the lower-cased entity name the event table belongs to,
// with prefix removed from the table name first.
func (r StreamRecord) EntityType(prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(r.Table, prefix), eventTableSuffix)
}

// kinesisDynamoRecord is the payload DynamoDB writes to a Kinesis data stream.
// It carries the table name, which stream records only expose through the ARN.
type kinesisDynamoRecord struct {
	events.DynamoDBEventRecord
	TableName string `json:"tableName"`
}

// ConvertFromKinesisRecord converts a Kinesis record (DynamoDB Streams format) to a StreamRecord.
// Non-INSERT records and rows from snapshot tables yield nil.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*StreamRecord, error) {
	var dynamoDBRecord kinesisDynamoRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}

	table := dynamoDBRecord.TableName
	if table == "" {
		table = tableFromARN(dynamoDBRecord.EventSourceArn)
	}
	return convertRecord(table, dynamoDBRecord.DynamoDBEventRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record to a StreamRecord.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*StreamRecord, error) {
	return convertRecord(tableFromARN(record.EventSourceArn), record)
}

func convertRecord(table string, record events.DynamoDBEventRecord) (*StreamRecord, error) {
	// Events are append-only; updates and removals are not relayed.
	if record.EventName != string(events.DynamoDBOperationTypeInsert) {
		return nil, nil
	}
	if table != "" && !strings.HasSuffix(table, eventTableSuffix) {
		return nil, nil
	}

	event, err := convertDynamoDBImage(record.Change.NewImage)
	if err != nil {
		return nil, err
	}
	return &StreamRecord{Table: table, Event: *event}, nil
}

// convertDynamoDBImage extracts an event row from DynamoDB attribute values.
func convertDynamoDBImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, fmt.Errorf("DynamoDB image is nil")
	}

	item := make(store.Item, len(image))
	for k, v := range image {
		value, err := attributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		item[k] = value
	}

	event, err := store.EventFromItem(item)
	if err != nil {
		return nil, err
	}
	if event.ID == "" || event.Method == "" {
		return nil, fmt.Errorf("missing required fields: id=%s, version=%d, method=%s",
			event.ID, event.Version, event.Method)
	}
	return &event, nil
}

// attributeValue converts a stream attribute into the value attributevalue
// would have produced. Numbers stay exact as json.Number.
func attributeValue(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return json.Number(v.Number()), nil
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeStringSet:
		return v.StringSet(), nil
	case events.DataTypeNumberSet:
		set := v.NumberSet()
		out := make([]json.Number, len(set))
		for i, n := range set {
			out[i] = json.Number(n)
		}
		return out, nil
	case events.DataTypeBinarySet:
		return v.BinarySet(), nil
	case events.DataTypeList:
		list := v.List()
		out := make([]any, len(list))
		for i, elem := range list {
			value, err := attributeValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]any, len(m))
		for k, elem := range m {
			value, err := attributeValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %d", v.DataType())
	}
}

// tableFromARN extracts the table name from a DynamoDB stream ARN
// (arn:aws:dynamodb:region:account:table/<name>/stream/<label>).
func tableFromARN(arn string) string {
	_, rest, found := strings.Cut(arn, ":table/")
	if !found {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event to StreamRecords.
// Returns successfully converted records and any errors encountered.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*StreamRecord, []error) {
	var records []*StreamRecord
	var errs []error

	for _, record := range kinesisEvent.Records {
		converted, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if converted != nil {
			records = append(records, converted)
		}
	}

	return records, errs
}
