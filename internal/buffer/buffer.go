// Package buffer holds the ordered, role-tagged message history an agent sends
// to its chat backend, and renders it in the backend's prompt dialect.
package buffer

import (
	"fmt"
	"strings"
)

// Persona tags who authored a message.
type Persona string

const (
	PersonaSystem    Persona = "system"
	PersonaHuman     Persona = "human"
	PersonaAssistant Persona = "assistant"
)

// Message is a single entry in a buffer. It is never mutated after append.
type Message struct {
	Persona Persona
	Content string
}

// String renders the message as a plain "persona: content" line.
func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Persona, m.Content)
}

// Dialect selects how messages are serialized into a single prompt.
type Dialect string

const (
	// DialectPlain joins messages as "persona: content" lines.
	DialectPlain Dialect = "plain"
	// DialectLlama wraps human and system messages in Llama 2 instruction markers.
	DialectLlama Dialect = "llama"
)

// Retention decides which messages survive between turns.
type Retention string

const (
	// RetentionFull keeps every message.
	RetentionFull Retention = "full"
	// RetentionSeedOnly keeps the seed preamble plus the latest human message.
	// Assistant messages are dropped.
	RetentionSeedOnly Retention = "seed-only"
)

const (
	llamaHumanTemplate  = "[INST]\n%s\n[/INST]"
	llamaSystemTemplate = "<<SYS>>\n%s\n<</SYS>>"
)

// Buffer is an ordered message history with a serialization dialect and a
// retention policy. It is not safe for concurrent use; each agent owns one.
type Buffer struct {
	dialect   Dialect
	retention Retention
	seedLen   int
	messages  []Message
}

// New creates an empty buffer. Unknown dialects render as plain.
func New(dialect Dialect, retention Retention) *Buffer {
	if dialect == "" {
		dialect = DialectPlain
	}
	if retention == "" {
		retention = RetentionFull
	}
	return &Buffer{dialect: dialect, retention: retention}
}

func (b *Buffer) Dialect() Dialect     { return b.dialect }
func (b *Buffer) Retention() Retention { return b.retention }

// Seed establishes the fixed preamble. Seeding again replaces the previous
// preamble and anything after it.
func (b *Buffer) Seed(msgs ...Message) {
	b.messages = append(b.messages[:0:0], msgs...)
	b.seedLen = len(msgs)
}

// Add appends a message under the buffer's retention policy and returns a copy
// of the resulting sequence.
func (b *Buffer) Add(persona Persona, content string) []Message {
	if b.retention == RetentionSeedOnly {
		switch persona {
		case PersonaAssistant:
			return b.Messages()
		case PersonaHuman:
			b.messages = b.messages[:b.seedLen]
		}
	}
	b.messages = append(b.messages, Message{Persona: persona, Content: content})
	return b.Messages()
}

func (b *Buffer) AddHuman(content string) []Message     { return b.Add(PersonaHuman, content) }
func (b *Buffer) AddAssistant(content string) []Message { return b.Add(PersonaAssistant, content) }
func (b *Buffer) AddSystem(content string) []Message    { return b.Add(PersonaSystem, content) }

// Messages returns a copy of the current sequence.
func (b *Buffer) Messages() []Message {
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Len reports the number of retained messages.
func (b *Buffer) Len() int { return len(b.messages) }

// Snapshot captures the buffer state so a failed turn can be undone.
func (b *Buffer) Snapshot() Snapshot {
	return Snapshot{seedLen: b.seedLen, messages: b.Messages()}
}

// Restore rolls the buffer back to a snapshot taken from it.
func (b *Buffer) Restore(s Snapshot) {
	b.seedLen = s.seedLen
	b.messages = append(b.messages[:0:0], s.messages...)
}

// Snapshot is an opaque copy of buffer state.
type Snapshot struct {
	seedLen  int
	messages []Message
}

// Render serializes the buffer into one prompt string. It has no side effects.
func (b *Buffer) Render() string {
	lines := make([]string, len(b.messages))
	for i, m := range b.messages {
		lines[i] = b.format(m)
	}
	return strings.Join(lines, "\n")
}

func (b *Buffer) format(m Message) string {
	if b.dialect != DialectLlama {
		return m.String()
	}
	switch m.Persona {
	case PersonaHuman:
		return fmt.Sprintf(llamaHumanTemplate, m.Content)
	case PersonaSystem:
		return fmt.Sprintf(llamaSystemTemplate, m.Content)
	default:
		return m.Content
	}
}
