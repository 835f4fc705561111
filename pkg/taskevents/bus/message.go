package bus

import (
	"time"

	"github.com/google/uuid"
)

// Metadata carries delivery metadata for a published message.
type Metadata struct {
	// PublishedAt is when the message entered the bus.
	PublishedAt time.Time `json:"publishedAt"`

	// Priority orders subscriber execution for this message's fan-out.
	Priority int `json:"priority,omitempty"`

	// TTL bounds the message's useful life. Expired messages are skipped at
	// delivery and replay time. Zero means no expiry.
	TTL time.Duration `json:"ttl,omitempty"`

	// Publisher identifies the producer.
	Publisher string `json:"publisher,omitempty"`
}

// Message is the envelope the bus wraps around published data.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// Topic is the topic the message was published to.
	Topic string `json:"topic"`

	// Channel is the channel owning the topic.
	Channel string `json:"channel"`

	// Data is the published payload.
	Data any `json:"data"`

	// Metadata carries delivery metadata.
	Metadata Metadata `json:"metadata"`
}

// Expired reports whether the message's TTL has elapsed.
func (m *Message) Expired(now time.Time) bool {
	if m.Metadata.TTL <= 0 {
		return false
	}
	return now.After(m.Metadata.PublishedAt.Add(m.Metadata.TTL))
}

// PublishOptions configures one publish.
type PublishOptions struct {
	// Channel selects the channel; empty uses the bus default channel.
	Channel string

	// Priority is stored in the message metadata.
	Priority int

	// TTL is stored in the message metadata.
	TTL time.Duration

	// Publisher is stored in the message metadata.
	Publisher string

	// MessageID overrides the generated message ID.
	MessageID string
}

// PublishOption configures one publish.
type PublishOption func(*PublishOptions)

// OnChannel publishes to a specific channel instead of the default.
func OnChannel(channel string) PublishOption {
	return func(o *PublishOptions) { o.Channel = channel }
}

// WithPriority sets the message priority.
func WithPriority(p int) PublishOption {
	return func(o *PublishOptions) { o.Priority = p }
}

// WithTTL sets the message time-to-live.
func WithTTL(ttl time.Duration) PublishOption {
	return func(o *PublishOptions) { o.TTL = ttl }
}

// WithPublisher records the producer identity on the message.
func WithPublisher(name string) PublishOption {
	return func(o *PublishOptions) { o.Publisher = name }
}

// WithMessageID overrides the generated message ID.
func WithMessageID(id string) PublishOption {
	return func(o *PublishOptions) { o.MessageID = id }
}

func newMessage(topic, channel string, data any, po PublishOptions) *Message {
	id := po.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	return &Message{
		ID:      id,
		Topic:   topic,
		Channel: channel,
		Data:    data,
		Metadata: Metadata{
			PublishedAt: time.Now(),
			Priority:    po.Priority,
			TTL:         po.TTL,
			Publisher:   po.Publisher,
		},
	}
}
