// Package stream cleans up index state left behind by entities that expired
// in the key-value store.
//
// Expired hashes disappear without the mapper noticing, so their ids stay in
// the keyspace set, in index sets and in other entities' reference lists.
// Two consumers feed the expired keys to [store.Store.Purge]:
//
//   - [Handler] reads DynamoDB stream REMOVE records (a Lambda handler).
//   - [ExpiryListener] subscribes to Redis expired-key notifications.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tendril/kv/dynamokv"
)

// Purger removes the index state of an entity key that no longer exists.
// *store.Store implements it.
type Purger interface {
	Purge(ctx context.Context, key string) error
}

// ttlPrincipal is the stream user identity of items removed by DynamoDB TTL.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Handler processes DynamoDB stream events for expired entities.
type Handler struct {
	purger Purger
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(p Purger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		purger: p,
		logger: logger,
	}
}

// HandleExpirations purges every entity hash removed from the table.
// It is meant to be used as an AWS Lambda handler.
func (h *Handler) HandleExpirations(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}
	// Only hash items are entities; sets and strings have nothing to purge.
	if getStringAttr(record.Change.OldImage, "kind") != dynamokv.KindHash {
		return nil
	}

	key, err := keyOf(record)
	if err != nil {
		return err
	}
	if key == "" {
		h.logger.Warn("remove record without key", "eventID", record.EventID)
		return nil
	}

	h.logger.Info("purging removed entity",
		"key", key,
		"expiredByTTL", isTTLRemoval(record),
		"ttl", getNumberAttr(record.Change.OldImage, "ttl"),
	)

	if err := h.purger.Purge(ctx, key); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	return nil
}

// keyOf returns the partition key of the record, falling back to the old image.
func keyOf(record *events.DynamoDBEventRecord) (string, error) {
	var item struct {
		Key string `dynamodbav:"k"`
	}
	if len(record.Change.Keys) > 0 {
		if err := attributevalue.UnmarshalMap(ConvertStreamKey(record.Change.Keys), &item); err != nil {
			return "", fmt.Errorf("decode stream key: %w", err)
		}
	}
	if item.Key == "" {
		item.Key = getStringAttr(record.Change.OldImage, "k")
	}
	return item.Key, nil
}

func isTTLRemoval(record *events.DynamoDBEventRecord) bool {
	id := record.UserIdentity
	return id != nil && id.Type == "Service" && id.PrincipalID == ttlPrincipal
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts a DynamoDB stream key to SDK attribute values.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(streamKey))
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
