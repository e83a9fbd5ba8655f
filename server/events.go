package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type Event struct {
	Type    string `json:"type"`
	ListID  string `json:"listId"`
	Payload any    `json:"payload,omitempty"`
}

// EventBus fans list changes out to SSE subscribers of that list.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewEventBus() *EventBus { return &EventBus{subs: make(map[string]map[chan []byte]struct{})} }

func (b *EventBus) Subscribe(listID string) (ch chan []byte, cancel func()) {
	ch = make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[listID] == nil {
		b.subs[listID] = make(map[chan []byte]struct{})
	}
	b.subs[listID][ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subs[listID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, listID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Subscribers(listID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[listID])
}

func (b *EventBus) Publish(ev Event) {
	data, _ := json.Marshal(ev)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.ListID] {
		select {
		case ch <- data:
		default: // drop if slow
		}
	}
}

// ServeSSE streams events of one list until the client goes away.
func (b *EventBus) ServeSSE(w http.ResponseWriter, r *http.Request, listID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := b.Subscribe(listID)
	defer cancel()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// heartbeat for proxies
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
