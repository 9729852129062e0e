package stream

import (
	"context"
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

const testARN = "arn:aws:dynamodb:us-east-1:123456789012:table/app-widgets/stream/2024-01-01T00:00:00.000"

// --- getStringAttr Tests ---

func TestGetStringAttr_ExistingString(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("w-1"),
	}

	result := getStringAttr(image, "item_name")
	if result != "w-1" {
		t.Errorf("expected 'w-1', got %q", result)
	}
}

func TestGetStringAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"other": events.NewStringAttribute("value"),
	}

	result := getStringAttr(image, "item_name")
	if result != "" {
		t.Errorf("expected empty string for missing key, got %q", result)
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	result := getStringAttr(image, "item_name")
	if result != "" {
		t.Errorf("expected empty string for nil image, got %q", result)
	}
}

func TestGetStringAttr_NumberAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewNumberAttribute("42"),
	}

	result := getStringAttr(image, "item_name")
	if result != "" {
		t.Errorf("expected empty string for number attribute, got %q", result)
	}
}

func TestGetStringAttr_UnicodeValue(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("日本語テスト"),
	}

	result := getStringAttr(image, "item_name")
	if result != "日本語テスト" {
		t.Errorf("expected '日本語テスト', got %q", result)
	}
}

// --- getStringSetAttr Tests ---

func TestGetStringSetAttr_Sorted(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"Tags": events.NewStringSetAttribute([]string{"c", "a", "b"}),
	}

	result := getStringSetAttr(image, "Tags")
	if !slices.Equal(result, []string{"a", "b", "c"}) {
		t.Errorf("expected sorted set, got %v", result)
	}
}

func TestGetStringSetAttr_DoesNotModifyImage(t *testing.T) {
	set := []string{"b", "a"}
	image := map[string]events.DynamoDBAttributeValue{
		"Tags": events.NewStringSetAttribute(set),
	}

	getStringSetAttr(image, "Tags")
	if set[0] != "b" {
		t.Errorf("expected image set to be untouched, got %v", set)
	}
}

func TestGetStringSetAttr_WrongType(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"Tags": events.NewStringAttribute("a"),
	}

	if result := getStringSetAttr(image, "Tags"); result != nil {
		t.Errorf("expected nil for string attribute, got %v", result)
	}
}

func TestGetStringSetAttr_MissingKey(t *testing.T) {
	if result := getStringSetAttr(nil, "Tags"); result != nil {
		t.Errorf("expected nil for missing key, got %v", result)
	}
}

// --- containerFromARN Tests ---

func TestContainerFromARN(t *testing.T) {
	tests := []struct {
		name      string
		arn       string
		prefix    string
		container string
		ok        bool
	}{
		{"with prefix", testARN, "app-", "widgets", true},
		{"without prefix", "arn:aws:dynamodb:us-east-1:1:table/widgets/stream/x", "", "widgets", true},
		{"no stream suffix", "arn:aws:dynamodb:us-east-1:1:table/app-widgets", "app-", "widgets", true},
		{"other prefix", testARN, "test-", "", false},
		{"prefix only", "arn:aws:dynamodb:us-east-1:1:table/app-/stream/x", "app-", "", false},
		{"not a table", "arn:aws:kinesis:us-east-1:1:stream/widgets", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, ok := containerFromARN(tt.arn, tt.prefix)
			if ok != tt.ok || container != tt.container {
				t.Errorf("containerFromARN(%q, %q) = %q, %v; want %q, %v",
					tt.arn, tt.prefix, container, ok, tt.container, tt.ok)
			}
		})
	}
}

// --- changedAttributes Tests ---

func TestChangedAttributes(t *testing.T) {
	oldImage := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("w-1"),
		"Name":      events.NewStringSetAttribute([]string{"gear"}),
		"Tags":      events.NewStringSetAttribute([]string{"a", "b"}),
		"Price":     events.NewStringSetAttribute([]string{"1.5"}),
	}
	newImage := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("w-1"),
		"Name":      events.NewStringSetAttribute([]string{"cog"}),
		"Tags":      events.NewStringSetAttribute([]string{"b", "a"}),
		"Count":     events.NewStringSetAttribute([]string{"3"}),
	}

	result := changedAttributes(oldImage, newImage)
	want := []string{"Count", "Name", "Price"}
	if !slices.Equal(result, want) {
		t.Errorf("expected %v, got %v", want, result)
	}
}

func TestChangedAttributes_NoImages(t *testing.T) {
	if result := changedAttributes(nil, nil); result != nil {
		t.Errorf("expected nil without images, got %v", result)
	}
}

func TestChangedAttributes_Removed(t *testing.T) {
	oldImage := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("w-1"),
		"Name":      events.NewStringSetAttribute([]string{"gear"}),
	}

	result := changedAttributes(oldImage, nil)
	if !slices.Equal(result, []string{"Name"}) {
		t.Errorf("expected [Name], got %v", result)
	}
}

// --- processRecord Tests ---

type recordingEvicter struct {
	evicted []string
}

func (r *recordingEvicter) Evict(container, itemName string) {
	r.evicted = append(r.evicted, container+"/"+itemName)
}

func TestProcessRecord_SkipsInsertEvents(t *testing.T) {
	ev := &recordingEvicter{}
	h := NewHandler(ev, "app-", nil)

	record := events.DynamoDBEventRecord{
		EventName:      "INSERT",
		EventSourceArn: testARN,
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"item_name": events.NewStringAttribute("w-1"),
			},
		},
	}

	if err := h.processRecord(context.Background(), record); err != nil {
		t.Errorf("expected no error for INSERT, got %v", err)
	}
	if len(ev.evicted) != 0 {
		t.Errorf("expected no evictions for INSERT, got %v", ev.evicted)
	}
}

func TestProcessRecord_EvictsModifyAndRemove(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		t.Run(name, func(t *testing.T) {
			ev := &recordingEvicter{}
			h := NewHandler(ev, "app-", nil)

			record := events.DynamoDBEventRecord{
				EventName:      name,
				EventSourceArn: testARN,
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"item_name": events.NewStringAttribute("w-1"),
					},
				},
			}

			if err := h.processRecord(context.Background(), record); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(ev.evicted, []string{"widgets/w-1"}) {
				t.Errorf("expected widgets/w-1 evicted, got %v", ev.evicted)
			}
		})
	}
}

func TestProcessRecord_IgnoresForeignTables(t *testing.T) {
	ev := &recordingEvicter{}
	h := NewHandler(ev, "prod-", nil)

	record := events.DynamoDBEventRecord{
		EventName:      "MODIFY",
		EventSourceArn: testARN,
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"item_name": events.NewStringAttribute("w-1"),
			},
		},
	}

	if err := h.processRecord(context.Background(), record); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if len(ev.evicted) != 0 {
		t.Errorf("expected no evictions, got %v", ev.evicted)
	}
}

func TestProcessRecord_MissingKey(t *testing.T) {
	h := NewHandler(&recordingEvicter{}, "app-", nil)

	record := events.DynamoDBEventRecord{
		EventID:        "evt-1",
		EventName:      "REMOVE",
		EventSourceArn: testARN,
	}

	if err := h.processRecord(context.Background(), record); err == nil {
		t.Error("expected error for record without key")
	}
}

func TestProcessRecord_NilCache(t *testing.T) {
	h := NewHandler(nil, "app-", nil)

	record := events.DynamoDBEventRecord{
		EventName:      "MODIFY",
		EventSourceArn: testARN,
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"item_name": events.NewStringAttribute("w-1"),
			},
		},
	}

	if err := h.processRecord(context.Background(), record); err != nil {
		t.Errorf("expected no error with nil cache, got %v", err)
	}
}

// --- Benchmark Tests ---

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"item_name": events.NewStringAttribute("12345678-1234-1234-1234-123456789012"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "item_name")
	}
}

func BenchmarkContainerFromARN(b *testing.B) {
	for i := 0; i < b.N; i++ {
		containerFromARN(testARN, "app-")
	}
}

func BenchmarkChangedAttributes(b *testing.B) {
	oldImage := map[string]events.DynamoDBAttributeValue{
		"Name": events.NewStringSetAttribute([]string{"gear"}),
		"Tags": events.NewStringSetAttribute([]string{"a", "b", "c"}),
	}
	newImage := map[string]events.DynamoDBAttributeValue{
		"Name": events.NewStringSetAttribute([]string{"cog"}),
		"Tags": events.NewStringSetAttribute([]string{"c", "b", "a"}),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		changedAttributes(oldImage, newImage)
	}
}
