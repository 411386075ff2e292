package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/kvmodel/kv"
	"github.com/jacentio/kvmodel/kv/memory"
	"github.com/jacentio/kvmodel/store"
	"github.com/jacentio/kvmodel/stream"
)

var userModel = store.MustModel("User",
	store.WithFillable("email"),
	store.WithIndexed("email"),
)

func newStore(t *testing.T) (*store.Store, *memory.Store) {
	t.Helper()
	backend := memory.New()
	registry := store.NewRegistry()
	registry.MustRegister(userModel)
	return store.NewWithRegistry(backend, store.DefaultConfig(), registry), backend
}

func removeEvent(pk, sk string, oldImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + pk,
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"pk": events.NewStringAttribute(pk),
				"sk": events.NewStringAttribute(sk),
			},
			OldImage: oldImage,
		},
	}
}

func userImage(id, email string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"pk":      events.NewStringAttribute("user:" + id),
		"sk":      events.NewStringAttribute("#"),
		"t":       events.NewStringAttribute("h"),
		"h:id":    events.NewStringAttribute(id),
		"h:email": events.NewStringAttribute(email),
	}
}

func TestNewHandler(t *testing.T) {
	// Test with nil store and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleRecordRemoval(t *testing.T) {
	ctx := context.Background()
	s, backend := newStore(t)

	backend.Set(ctx, "user:email:a@x.com", "1")
	backend.ZAdd(ctx, "user:1:rel:post", "5", 5)
	backend.Set(ctx, "user:email:b@x.com", "2")

	h := stream.NewHandler(s, nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeEvent("user:1", "#", userImage("1", "a@x.com")),
	}}

	if err := h.HandleRecordRemoval(ctx, event); err != nil {
		t.Fatal(err)
	}
	// Replays are harmless.
	if err := h.HandleRecordRemoval(ctx, event); err != nil {
		t.Fatal(err)
	}

	if ok, _ := backend.Exists(ctx, "user:email:a@x.com"); ok {
		t.Error("expected index entry to be released")
	}
	if ok, _ := backend.Exists(ctx, "user:1:rel:post"); ok {
		t.Error("expected relation set to be released")
	}
	if ok, _ := backend.Exists(ctx, "user:email:b@x.com"); !ok {
		t.Error("expected unrelated index entry to survive")
	}
}

func TestHandleRecordRemoval_Ignored(t *testing.T) {
	ctx := context.Background()
	s, backend := newStore(t)
	backend.Set(ctx, "user:email:a@x.com", "1")

	modify := removeEvent("user:1", "#", userImage("1", "a@x.com"))
	modify.EventName = "MODIFY"

	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
	}{
		{"modify event", modify},
		{"sorted set member", removeEvent("user:1:rel:post", "m#5", nil)},
		{"index entry", removeEvent("user:email:a@x.com", "#", nil)},
		{"unregistered model", removeEvent("comment:1", "#", userImage("1", "a@x.com"))},
	}
	h := stream.NewHandler(s, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.HandleRecordRemoval(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{tt.record}})
			if err != nil {
				t.Fatal(err)
			}
			if ok, _ := backend.Exists(ctx, "user:email:a@x.com"); !ok {
				t.Error("expected index entry to be untouched")
			}
		})
	}
}

func TestHandleRecordRemoval_NoRegistry(t *testing.T) {
	h := stream.NewHandler(store.New(memory.New(), store.DefaultConfig()), nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeEvent("user:1", "#", userImage("1", "a@x.com")),
	}}
	if err := h.HandleRecordRemoval(context.Background(), event); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestHandleRecordRemoval_ReturnsErrors(t *testing.T) {
	s, backend := newStore(t)
	backend.Close()

	h := stream.NewHandler(s, nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeEvent("user:1", "#", userImage("1", "a@x.com")),
	}}

	err := h.HandleRecordRemoval(context.Background(), event)
	if !errors.Is(err, kv.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for retry, got %v", err)
	}
}
