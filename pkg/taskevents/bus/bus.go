// Package bus implements topic/channel pub-sub on top of the dispatcher.
//
// A topic lives inside a channel; the pair forms the dispatcher's event-type
// key. The bus adds per-topic bounded message history with replay-on-subscribe
// and a routing-rule engine that inspects every published message. The bus
// owns its dispatcher exclusively; callers must never emit on it directly.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/dispatch"
	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// DefaultChannel is used when a publish or subscribe names no channel.
const DefaultChannel = "default"

// topicNameRe validates topic and channel syntax.
var topicNameRe = regexp.MustCompile(`^[A-Za-z0-9.\-_:*]+$`)

// Config configures bus behavior.
type Config struct {
	// HistoryRetention bounds each topic's message history; the oldest
	// message is evicted first. Default: 100. Negative disables history.
	HistoryRetention int

	// ChannelNamespacing prefixes the dispatcher key with the channel name.
	// Disabled, the topic alone is the key and channels are cosmetic.
	// Default: enabled.
	ChannelNamespacing bool

	// Dispatcher configures the bus-owned dispatcher.
	Dispatcher dispatch.Config

	// Logger for diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics records publish metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	HistoryRetention:   100,
	ChannelNamespacing: true,
}

type topicState struct {
	name            string
	channel         string
	createdAt       time.Time
	history         []*Message
	subscriberCount int
}

type channelState struct {
	name            string
	topics          map[string]struct{}
	createdAt       time.Time
	subscriberCount int
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Channels          int
	Topics            int
	Subscriptions     int
	MessagesPublished int64
}

// Bus is the topic/channel pub-sub layer.
type Bus struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher

	mu        sync.RWMutex
	channels  map[string]*channelState
	topics    map[string]*topicState // keyed by full key
	subs      map[string]*Subscription
	rules     []*routingRule
	published int64
	closed    bool
}

// New creates a bus with its own private dispatcher.
func New(cfg Config) *Bus {
	if cfg.HistoryRetention == 0 {
		cfg.HistoryRetention = DefaultConfig.HistoryRetention
	}
	if cfg.Dispatcher.Logger == nil {
		cfg.Dispatcher.Logger = cfg.Logger
	}

	return &Bus{
		cfg:        cfg,
		dispatcher: dispatch.New(cfg.Dispatcher),
		channels:   make(map[string]*channelState),
		topics:     make(map[string]*topicState),
		subs:       make(map[string]*Subscription),
	}
}

// key is the single point of integration with the dispatcher's registry.
func (b *Bus) key(channel, topic string) string {
	if b.cfg.ChannelNamespacing {
		return channel + ":" + topic
	}
	return topic
}

func validateTopicName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is empty", kind)
	}
	if !topicNameRe.MatchString(name) {
		return fmt.Errorf("invalid %s name %q: allowed characters are alphanumerics, '.', '-', '_', ':', '*'", kind, name)
	}
	return nil
}

// CreateChannel creates a channel if it does not already exist.
func (b *Bus) CreateChannel(name string) error {
	if err := validateTopicName("channel", name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return teverrors.ErrBusClosed
	}
	b.ensureChannelLocked(name)
	return nil
}

// DeleteChannel removes a channel, cascading to its topics and their
// subscriptions. Returns false if the channel does not exist.
func (b *Bus) DeleteChannel(name string) bool {
	b.mu.Lock()

	ch, ok := b.channels[name]
	if !ok {
		b.mu.Unlock()
		return false
	}

	var doomed []*Subscription
	for _, sub := range b.subs {
		if sub.channel == name {
			doomed = append(doomed, sub)
		}
	}
	for topicName := range ch.topics {
		delete(b.topics, b.key(name, topicName))
	}
	delete(b.channels, name)
	for _, sub := range doomed {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()

	for _, sub := range doomed {
		b.dispatcher.Off(sub.listenerID)
	}
	return true
}

// Channels lists channel names.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// Topics lists topic names within a channel.
func (b *Bus) Topics(channel string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.channels[channel]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ch.topics))
	for name := range ch.topics {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Channels:          len(b.channels),
		Topics:            len(b.topics),
		Subscriptions:     len(b.subs),
		MessagesPublished: b.published,
	}
}

// Clear removes every channel, topic, subscription, rule, and listener but
// leaves the bus usable.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.channels = make(map[string]*channelState)
	b.topics = make(map[string]*topicState)
	b.subs = make(map[string]*Subscription)
	b.rules = nil
	b.mu.Unlock()

	b.dispatcher.Clear()
}

// Close shuts the bus down. Further publishes and subscribes fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.Clear()
	return nil
}

// ensureChannelLocked must be called with b.mu held.
func (b *Bus) ensureChannelLocked(name string) *channelState {
	ch, ok := b.channels[name]
	if !ok {
		ch = &channelState{
			name:      name,
			topics:    make(map[string]struct{}),
			createdAt: time.Now(),
		}
		b.channels[name] = ch
	}
	return ch
}

// ensureTopicLocked must be called with b.mu held.
func (b *Bus) ensureTopicLocked(channel, topic string) *topicState {
	key := b.key(channel, topic)
	ts, ok := b.topics[key]
	if !ok {
		ts = &topicState{
			name:      topic,
			channel:   channel,
			createdAt: time.Now(),
		}
		b.topics[key] = ts
		b.ensureChannelLocked(channel).topics[topic] = struct{}{}
	}
	return ts
}

// PublishResult is the outcome of one publish.
type PublishResult struct {
	// MessageID identifies the published message.
	MessageID string

	// Topic and Channel name the destination.
	Topic   string
	Channel string

	// SubscribersNotified is the number of listeners that executed.
	SubscribersNotified int

	// Success is true iff no subscriber failed.
	Success bool

	// Failures holds per-subscriber errors.
	Failures []error
}

// Publish wraps data in a Message envelope and fans it out to the topic's
// subscribers. The topic and its channel are created on first use.
func (b *Bus) Publish(ctx context.Context, topic string, data any, opts ...PublishOption) (*PublishResult, error) {
	po := PublishOptions{Channel: DefaultChannel}
	for _, opt := range opts {
		opt(&po)
	}
	if po.Channel == "" {
		po.Channel = DefaultChannel
	}

	if err := validateTopicName("topic", topic); err != nil {
		return nil, err
	}
	if err := validateTopicName("channel", po.Channel); err != nil {
		return nil, err
	}

	msg := newMessage(topic, po.Channel, data, po)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, teverrors.ErrBusClosed
	}
	ts := b.ensureTopicLocked(po.Channel, topic)
	b.appendHistoryLocked(ts, msg)
	b.published++
	rules := make([]*routingRule, len(b.rules))
	copy(rules, b.rules)
	b.mu.Unlock()

	b.runRules(ctx, rules, msg)

	em := b.dispatcher.Emit(ctx, b.key(po.Channel, topic), msg)

	res := &PublishResult{
		MessageID:           msg.ID,
		Topic:               topic,
		Channel:             po.Channel,
		SubscribersNotified: em.ListenersExecuted,
		Success:             em.Success,
	}
	for _, f := range em.Failures {
		res.Failures = append(res.Failures, f.Err)
	}

	observability.LogPublish(b.cfg.Logger, msg.ID, po.Channel, topic, em.ListenersExecuted)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordPublish(ctx, po.Channel, topic, em.ListenersExecuted)
	}

	return res, nil
}

// appendHistoryLocked must be called with b.mu held.
func (b *Bus) appendHistoryLocked(ts *topicState, msg *Message) {
	if b.cfg.HistoryRetention < 0 {
		return
	}
	ts.history = append(ts.history, msg)
	if over := len(ts.history) - b.cfg.HistoryRetention; over > 0 {
		ts.history = ts.history[over:]
	}
}
