package bus

import (
	"log"
	"sync"
	"time"
)

type MsgType string

const (
	MsgRunStarted      MsgType = "run.started"
	MsgRunStateChanged MsgType = "run.state_changed"
	MsgRunTurn         MsgType = "run.turn"
	MsgRunEnded        MsgType = "run.ended"
	MsgRunFailed       MsgType = "run.failed"
	MsgLabelCreated    MsgType = "label.created"
	MsgLabelFailed     MsgType = "label.failed"
)

type Message struct {
	Type    MsgType     `json:"type"`
	RunID   string      `json:"run_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

type Handler func(msg Message)

type handlerEntry struct {
	id int
	h  Handler
}

// Subscription removes its handler when Unsubscribe is called.
type Subscription struct {
	bus     *MessageBus
	msgType MsgType
	id      int
	once    sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.msgType, s.id)
	})
}

// MessageBus delivers messages synchronously to subscribers and keeps a
// bounded history. Safe for concurrent publishers.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[MsgType][]handlerEntry
	nextID   int
	history  []Message
	maxHist  int
}

func New(maxHistory int) *MessageBus {
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &MessageBus{
		handlers: make(map[MsgType][]handlerEntry),
		maxHist:  maxHistory,
	}
}

func (b *MessageBus) Subscribe(msgType MsgType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[msgType] = append(b.handlers[msgType], handlerEntry{id: b.nextID, h: h})
	return &Subscription{bus: b, msgType: msgType, id: b.nextID}
}

func (b *MessageBus) SubscribeAll(h Handler) *Subscription {
	return b.Subscribe("*", h)
}

func (b *MessageBus) remove(msgType MsgType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.handlers[msgType]
	for i, e := range entries {
		if e.id == id {
			b.handlers[msgType] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish records msg and calls every matching handler. A panicking handler
// is logged and does not stop delivery to the others.
func (b *MessageBus) Publish(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHist {
		// Copy to a new slice to release the old backing array
		trimmed := make([]Message, b.maxHist)
		copy(trimmed, b.history[len(b.history)-b.maxHist:])
		b.history = trimmed
	}
	// Copy handlers under lock
	specific := make([]handlerEntry, len(b.handlers[msg.Type]))
	copy(specific, b.handlers[msg.Type])
	wildcard := make([]handlerEntry, len(b.handlers["*"]))
	copy(wildcard, b.handlers["*"])
	b.mu.Unlock()

	for _, e := range specific {
		deliver(e.h, msg, "Handler")
	}
	for _, e := range wildcard {
		deliver(e.h, msg, "Wildcard handler")
	}
}

func deliver(h Handler, msg Message, kind string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[MessageBus] %s panicked for message type %s: %v", kind, msg.Type, r)
		}
	}()
	h(msg)
}

// History returns the last n messages, or all of them when n <= 0.
func (b *MessageBus) History(n int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	start := len(b.history) - n
	result := make([]Message, n)
	copy(result, b.history[start:])
	return result
}
