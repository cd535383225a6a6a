// Package bus is the retained-value store the display sink publishes
// status snapshots through: a late-attaching consumer (a framebuffer
// renderer starting up after the control loop is already running)
// reads the last published snapshot immediately instead of waiting for
// the next tick. Grounded on the teacher's bus/bus.go retained-message
// concept, trimmed to just that: nothing in this module subscribes
// through the bus (the framebuffer/touchscreen consumer is external
// per spec §1), so the teacher's subscription trie and "+"/"#"
// wildcard matching have no call site here and are not carried over.
package bus

import (
	"strings"
	"sync"
)

// Token is one level of a Topic.
type Token string

// Topic addresses a message, e.g. {"status", "pit"}.
type Topic []Token

func T(tokens ...Token) Topic { return Topic(tokens) }

func (t Topic) key() string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = string(tok)
	}
	return strings.Join(parts, "/")
}

// Message is the unit of delivery. Payload carries a concrete domain
// type (StatusSnapshot, ...); readers type-assert.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// Bus owns the retained-message store, keyed by topic.
type Bus struct {
	mu       sync.Mutex
	retained map[string]*Message
}

// NewBus creates an empty retained-value store.
func NewBus() *Bus {
	return &Bus{retained: map[string]*Message{}}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish records msg as the latest retained value under its topic.
// Non-retained messages are accepted but otherwise dropped: nothing in
// this module has a subscriber to deliver them to.
func (b *Bus) Publish(msg *Message) {
	if !msg.Retained {
		return
	}
	b.mu.Lock()
	b.retained[msg.Topic.key()] = msg
	b.mu.Unlock()
}

// Retained returns the last message published on topic, if any. A
// late-attaching consumer calls this once on startup instead of
// waiting for the next Publish.
func (b *Bus) Retained(topic Topic) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.retained[topic.key()]
	return m, ok
}

// Connection is a named handle onto the bus.
type Connection struct {
	bus *Bus
	id  string
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Retained(topic Topic) (*Message, bool) { return c.bus.Retained(topic) }
