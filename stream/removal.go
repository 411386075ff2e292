// Package stream provides DynamoDB Streams handlers for the dynamo backend.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/kvmodel/kv/dynamo"
	"github.com/jacentio/kvmodel/store"
)

// Handler releases index entries and relation sets of removed records.
//
// Store.Delete already does this best-effort; the handler also covers
// records removed by other means (TTL, manual deletes) and cleanup that
// failed after the record key was gone.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler. s must have a model registry.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleRecordRemoval processes REMOVE events of record hashes.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRecordRemoval(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord releases what the removed record owned.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	key := getStringAttr(record.Change.Keys, "pk")
	if getStringAttr(record.Change.Keys, "sk") != dynamo.MetaSK {
		return nil
	}

	registry := h.store.Registry()
	if registry == nil {
		h.logger.Warn("no model registry, skipping removal", "key", key)
		return nil
	}
	m, id, ok := registry.ModelForKey(key)
	if !ok {
		return nil
	}

	values := dynamo.HashFields(ConvertStreamImage(record.Change.OldImage))

	h.logger.Info("releasing removed record",
		"model", m.Name(),
		"id", id,
	)

	if err := h.store.ReleaseIndexes(ctx, m, id, values); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamImage converts a DynamoDB stream image to SDK attribute values.
// Only scalar attributes are converted.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		case events.DataTypeBoolean:
			result[k] = &types.AttributeValueMemberBOOL{Value: v.Boolean()}
		}
	}
	return result
}
