// Package stream provides DynamoDB Streams handlers that keep a store's item cache
// coherent with writes made by other processes.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/attrmap/backend/dynamo"
)

// Evicter drops cached items. *store.Store and *store.Cache satisfy it.
type Evicter interface {
	Evict(container, itemName string)
}

// Handler evicts cache entries for items changed in DynamoDB container tables.
type Handler struct {
	cache       Evicter
	tablePrefix string
	logger      *slog.Logger
}

// NewHandler creates a stream handler. tablePrefix must match the prefix the dynamo backend
// was configured with; records from tables without it are ignored.
func NewHandler(cache Evicter, tablePrefix string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cache:       cache,
		tablePrefix: tablePrefix,
		logger:      logger,
	}
}

// HandleInvalidation processes DynamoDB stream events and evicts every modified or removed
// item from the cache. It can be used directly as an AWS Lambda handler.
func (h *Handler) HandleInvalidation(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord evicts the item named by a single stream record.
func (h *Handler) processRecord(_ context.Context, record events.DynamoDBEventRecord) error {
	// New items cannot be cached yet
	if record.EventName != "MODIFY" && record.EventName != "REMOVE" {
		return nil
	}

	container, ok := containerFromARN(record.EventSourceArn, h.tablePrefix)
	if !ok {
		return nil
	}

	itemName := getStringAttr(record.Change.Keys, dynamo.KeyAttribute)
	if itemName == "" {
		return fmt.Errorf("record %s: missing key %s", record.EventID, dynamo.KeyAttribute)
	}

	if h.cache != nil {
		h.cache.Evict(container, itemName)
	}

	h.logger.Info("evicted cached item",
		"container", container,
		"itemName", itemName,
		"event", record.EventName,
		"changed", changedAttributes(record.Change.OldImage, record.Change.NewImage),
	)
	return nil
}

// containerFromARN extracts the container name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/<prefix><container>/stream/<label>.
func containerFromARN(arn, prefix string) (string, bool) {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", false
	}
	table, _, _ := strings.Cut(rest, "/")
	container, ok := strings.CutPrefix(table, prefix)
	if !ok || container == "" {
		return "", false
	}
	return container, true
}

// changedAttributes lists the attribute names whose values differ between two images. It
// returns nil when the stream carries no images.
func changedAttributes(oldImage, newImage map[string]events.DynamoDBAttributeValue) []string {
	if oldImage == nil && newImage == nil {
		return nil
	}
	var changed []string
	for name := range oldImage {
		if name == dynamo.KeyAttribute {
			continue
		}
		if !slices.Equal(getStringSetAttr(oldImage, name), getStringSetAttr(newImage, name)) {
			changed = append(changed, name)
		}
	}
	for name := range newImage {
		if _, ok := oldImage[name]; !ok && name != dynamo.KeyAttribute {
			changed = append(changed, name)
		}
	}
	slices.Sort(changed)
	return changed
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getStringSetAttr extracts a string set attribute from a DynamoDB stream image, sorted.
func getStringSetAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeStringSet {
		set := slices.Clone(v.StringSet())
		slices.Sort(set)
		return set
	}
	return nil
}
