package notify

import (
	"encoding/json"
	"sync"
)

// Message kinds relayed from the background engine to open pages.
const (
	EventProgress = "DOWNLOAD_PROGRESS"
	EventComplete = "DOWNLOAD_COMPLETE"
	EventFailed   = "DOWNLOAD_FAILED"
)

type ProgressPayload struct {
	EntryID       string `json:"entryId"`
	UserID        string `json:"userId"`
	ReceivedBytes int64  `json:"receivedBytes"`
	TotalBytes    int64  `json:"totalBytes"`
	Progress      int    `json:"progress"`
}

type CompletePayload struct {
	EntryID  string `json:"entryId"`
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	CacheKey string `json:"cacheKey,omitempty"`
	Size     int64  `json:"size"`
}

type FailedPayload struct {
	EntryID  string `json:"entryId"`
	UserID   string `json:"userId"`
	Error    string `json:"error"`
	CacheKey string `json:"cacheKey,omitempty"`
}

// Bus fans download events out to every subscribed page context. Publish never
// blocks: a subscriber that cannot keep up misses events, which is acceptable
// because consumers treat messages as idempotent hints over durable state.
type Bus struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewBus() *Bus {
	return &Bus{
		clients: make(map[chan []byte]struct{}),
	}
}

func (b *Bus) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(eventType string, payload any) {
	raw, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- raw:
		default:
		}
	}
}
