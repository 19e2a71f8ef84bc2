package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"keyportal/internal/api/dto"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	if got := hub.SubscriberCount(); got != 2 {
		t.Fatalf("subscriber count = %d", got)
	}

	hub.Publish(dto.UsagePush{TotalTokens: 42, TotalRequests: 7})

	for _, ch := range []<-chan dto.UsagePush{first, second} {
		select {
		case push := <-ch:
			if push.TotalTokens != 42 || push.TotalRequests != 7 {
				t.Fatalf("push = %+v", push)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive update")
		}
	}
}

func TestLateSubscriberGetsLastUpdate(t *testing.T) {
	hub := NewHub()
	hub.Publish(dto.UsagePush{TotalTokens: 100})

	updates, cancel := hub.Subscribe()
	defer cancel()

	select {
	case push := <-updates:
		if push.TotalTokens != 100 {
			t.Fatalf("push = %+v", push)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive the retained update")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe()
	cancel()

	if got := hub.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count after cancel = %d", got)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(dto.UsagePush{TotalTokens: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestWebsocketStreamDelivery(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// Give the server a moment to register the subscription.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the subscriber")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(dto.UsagePush{TotalTokens: 12345, Timestamp: "2025-06-01T00:00:00Z"})

	var push dto.UsagePush
	if err := wsjson.Read(ctx, conn, &push); err != nil {
		t.Fatalf("read: %v", err)
	}
	if push.TotalTokens != 12345 {
		t.Fatalf("push = %+v", push)
	}
}
