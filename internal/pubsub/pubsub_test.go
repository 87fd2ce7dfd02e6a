package pubsub

import "testing"

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var got1, got2 Event
	b.Subscribe(TopicDeviceChanged, func(e Event) { got1 = e })
	b.Subscribe(TopicDeviceChanged, func(e Event) { got2 = e })

	b.Publish(TopicDeviceChanged, Event{Kind: ChangeAdded, EntityID: "dev-1"})

	if got1.EntityID != "dev-1" || got2.EntityID != "dev-1" {
		t.Fatalf("both subscribers should have received the event: %+v %+v", got1, got2)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(TopicRegisterChanged, func(Event) { calls++ })
	unsub()

	b.Publish(TopicRegisterChanged, Event{Kind: ChangeUpdated, EntityID: "reg-1"})

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount(TopicEndpointChanged) != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	unsub := b.Subscribe(TopicEndpointChanged, func(Event) {})
	b.Subscribe(TopicEndpointChanged, func(Event) {})
	if b.SubscriberCount(TopicEndpointChanged) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount(TopicEndpointChanged))
	}
	unsub()
	if b.SubscriberCount(TopicEndpointChanged) != 1 {
		t.Fatalf("expected 1 subscriber after unsub, got %d", b.SubscriberCount(TopicEndpointChanged))
	}
}
