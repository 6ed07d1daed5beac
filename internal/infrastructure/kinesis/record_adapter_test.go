package kinesis

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterStreamARN = "arn:aws:dynamodb:us-east-1:123456789012:table/counterevents/stream/2024-01-15T10:30:00.000"

func counterImage() map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":        events.NewStringAttribute("counter-456"),
		"version":   events.NewNumberAttribute("3"),
		"method":    events.NewStringAttribute("add"),
		"timestamp": events.NewNumberAttribute("1606703172298"),
		"data": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"amount": events.NewNumberAttribute("5"),
			"tags":   events.NewListAttribute([]events.DynamoDBAttributeValue{events.NewStringAttribute("a")}),
		}),
	}
}

func TestConvertDynamoDBImage(t *testing.T) {
	tests := []struct {
		name    string
		image   map[string]events.DynamoDBAttributeValue
		wantErr bool
	}{
		{
			name:    "valid event",
			image:   counterImage(),
			wantErr: false,
		},
		{
			name:    "nil image",
			image:   nil,
			wantErr: true,
		},
		{
			name: "missing required fields",
			image: map[string]events.DynamoDBAttributeValue{
				"id":      events.NewStringAttribute("counter-456"),
				"version": events.NewNumberAttribute("1"),
			},
			wantErr: true,
		},
		{
			name: "missing version",
			image: map[string]events.DynamoDBAttributeValue{
				"id":     events.NewStringAttribute("counter-456"),
				"method": events.NewStringAttribute("init"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := convertDynamoDBImage(tt.image)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, "counter-456", event.ID)
			assert.Equal(t, 3, event.Version)
			assert.Equal(t, "add", event.Method)
			assert.Equal(t, int64(1606703172298), event.Timestamp)
			assert.JSONEq(t, `{"amount":5,"tags":["a"]}`, string(event.Data))
		})
	}
}

func TestConvertDynamoDBImage_NullData(t *testing.T) {
	image := counterImage()
	image["data"] = events.NewNullAttribute()

	event, err := convertDynamoDBImage(image)

	require.NoError(t, err)
	assert.Empty(t, event.Data)
}

func TestConvertFromDynamoDBStreamRecord(t *testing.T) {
	t.Run("INSERT event converts successfully", func(t *testing.T) {
		record := events.DynamoDBEventRecord{
			EventName:      "INSERT",
			EventSourceArn: counterStreamARN,
			Change:         events.DynamoDBStreamRecord{NewImage: counterImage()},
		}

		converted, err := ConvertFromDynamoDBStreamRecord(record)

		require.NoError(t, err)
		require.NotNil(t, converted)
		assert.Equal(t, "counterevents", converted.Table)
		assert.Equal(t, "counter", converted.EntityType(""))
		assert.Equal(t, "counter-456", converted.Event.ID)
	})

	t.Run("MODIFY event is skipped", func(t *testing.T) {
		record := events.DynamoDBEventRecord{
			EventName:      "MODIFY",
			EventSourceArn: counterStreamARN,
			Change:         events.DynamoDBStreamRecord{NewImage: counterImage()},
		}

		converted, err := ConvertFromDynamoDBStreamRecord(record)

		require.NoError(t, err)
		assert.Nil(t, converted)
	})

	t.Run("snapshot table is skipped", func(t *testing.T) {
		record := events.DynamoDBEventRecord{
			EventName:      "INSERT",
			EventSourceArn: "arn:aws:dynamodb:us-east-1:123456789012:table/countersnapshots/stream/2024-01-15T10:30:00.000",
			Change:         events.DynamoDBStreamRecord{NewImage: counterImage()},
		}

		converted, err := ConvertFromDynamoDBStreamRecord(record)

		require.NoError(t, err)
		assert.Nil(t, converted)
	})
}

func TestStreamRecord_EntityType(t *testing.T) {
	r := StreamRecord{Table: "prod-productevents"}

	assert.Equal(t, "product", r.EntityType("prod-"))
	assert.Equal(t, "prod-product", r.EntityType(""))
}

func TestTableFromARN(t *testing.T) {
	assert.Equal(t, "counterevents", tableFromARN(counterStreamARN))
	assert.Equal(t, "counterevents", tableFromARN("arn:aws:dynamodb:us-east-1:123456789012:table/counterevents"))
	assert.Empty(t, tableFromARN("arn:aws:kinesis:us-east-1:123456789012:stream/relay"))
	assert.Empty(t, tableFromARN(""))
}

func kinesisRecord(t *testing.T, eventID string, payload any) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: eventID,
		Kinesis: events.KinesisRecord{Data: data},
	}
}

func TestBatchConvertFromKinesisEvent(t *testing.T) {
	insert := map[string]any{
		"eventName": "INSERT",
		"tableName": "counterevents",
		"dynamodb":  events.DynamoDBStreamRecord{NewImage: counterImage()},
	}
	modify := map[string]any{
		"eventName": "MODIFY",
		"tableName": "counterevents",
		"dynamodb":  events.DynamoDBStreamRecord{NewImage: counterImage()},
	}
	broken := map[string]any{
		"eventName": "INSERT",
		"tableName": "counterevents",
		"dynamodb": events.DynamoDBStreamRecord{NewImage: map[string]events.DynamoDBAttributeValue{
			"id": events.NewStringAttribute("counter-456"),
		}},
	}

	kinesisEvent := events.KinesisEvent{Records: []events.KinesisEventRecord{
		kinesisRecord(t, "shardId-000:1", insert),
		kinesisRecord(t, "shardId-000:2", modify),
		kinesisRecord(t, "shardId-000:3", broken),
		{EventID: "shardId-000:4", Kinesis: events.KinesisRecord{Data: []byte("not json")}},
	}}

	records, errs := BatchConvertFromKinesisEvent(kinesisEvent)

	require.Len(t, records, 1)
	assert.Equal(t, "counterevents", records[0].Table)
	assert.Equal(t, 3, records[0].Event.Version)
	require.Len(t, errs, 2)
	assert.ErrorContains(t, errs[0], "shardId-000:3")
	assert.ErrorContains(t, errs[1], "shardId-000:4")
}
