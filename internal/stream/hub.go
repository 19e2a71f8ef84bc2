// Package stream fans live usage updates out to websocket subscribers.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"keyportal/internal/api/dto"
)

const subscriberBuffer = 10

// Hub tracks websocket subscribers and pushes usage updates to all of them.
// Slow subscribers drop updates instead of blocking the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan dto.UsagePush]struct{}
	last        *dto.UsagePush
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan dto.UsagePush]struct{})}
}

// Publish delivers an update to every subscriber and remembers it for
// clients that connect later.
func (h *Hub) Publish(push dto.UsagePush) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &push
	for ch := range h.subscribers {
		select {
		case ch <- push:
		default:
		}
	}
}

// Subscribe registers a new listener. The most recent update, when one
// exists, is queued immediately so new clients render without waiting for
// the next tick.
func (h *Hub) Subscribe() (<-chan dto.UsagePush, func()) {
	ch := make(chan dto.UsagePush, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	if h.last != nil {
		ch <- *h.last
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports how many clients are currently connected.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request to a websocket and streams usage updates
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn("Failed to upgrade usage stream connection", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	log.Info("Usage stream client connected", "remote", r.RemoteAddr)

	updates, cancel := h.Subscribe()
	defer cancel()

	ctx := r.Context()
	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		case push := <-updates:
			if err := wsjson.Write(ctx, conn, push); err != nil {
				log.Info("Usage stream client disconnected", "remote", r.RemoteAddr)
				return
			}
		}
	}
}
