package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(Event{Type: TypeWorkflowStarted, WorkflowID: "wf-1"})

	for _, ch := range []chan Event{first, second} {
		select {
		case event := <-ch:
			if event.Type != TypeWorkflowStarted || event.WorkflowID != "wf-1" {
				t.Fatalf("unexpected event: %+v", event)
			}
			if event.Timestamp == 0 {
				t.Fatal("expected timestamp to be stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	// 没有订阅者时发布不应阻塞或出错。
	b.Publish(Event{Type: TypeWorkflowCompleted})
	if b.SubscriberCount() != 0 {
		t.Fatalf("unexpected subscriber count: %d", b.SubscriberCount())
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster(1)
	defer b.Close()

	slow := b.Subscribe()
	_ = slow

	b.Publish(Event{Type: TypeStageCompleted})
	b.Publish(Event{Type: TypeStageCompleted})

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected slow subscriber to be dropped, count=%d", b.SubscriberCount())
	}
	// 被剔除的通道应已关闭，先排掉缓冲中的事件。
	for {
		if _, ok := <-slow; !ok {
			return
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if b.SubscriberCount() != 0 {
		t.Fatalf("unexpected subscriber count: %d", b.SubscriberCount())
	}
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	ch := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	// 关闭后订阅返回已关闭的通道。
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel from subscribe after close")
	}
}
