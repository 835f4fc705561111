package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/dispatch"
	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

// SubscriberFunc handles one delivered message.
type SubscriberFunc func(ctx context.Context, msg *Message) error

// SubscriptionStats tracks per-subscription delivery counters.
type SubscriptionStats struct {
	MessagesReceived int64
	Errors           int64
	LastMessageAt    time.Time
}

// Subscription binds one subscriber to one topic. It owns exactly one
// dispatcher listener; unsubscribing removes the listener.
type Subscription struct {
	id         string
	topic      string
	channel    string
	listenerID string
	paused     atomic.Bool

	mu    sync.Mutex
	stats SubscriptionStats

	// seen holds message IDs delivered during the subscribe window, where a
	// publish can race the replay snapshot. Nil once the window closes.
	seenMu sync.Mutex
	seen   map[string]struct{}
}

// firstDelivery records the message ID while the subscribe window is open and
// reports whether this is its first delivery. Outside the window every
// delivery is a first delivery.
func (s *Subscription) firstDelivery(id string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if s.seen == nil {
		return true
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *Subscription) closeSubscribeWindow() {
	s.seenMu.Lock()
	s.seen = nil
	s.seenMu.Unlock()
}

// ID returns the subscription ID.
func (s *Subscription) ID() string { return s.id }

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	// Channel selects the channel; empty uses the bus default channel.
	Channel string

	// Priority orders this subscriber relative to others on the same topic.
	Priority int

	// Replay delivers up to ReplayCount historical messages on subscribe.
	Replay bool

	// ReplayCount bounds replay. Zero with Replay set replays the full
	// retained history.
	ReplayCount int
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*SubscribeOptions)

// FromChannel subscribes on a specific channel instead of the default.
func FromChannel(channel string) SubscribeOption {
	return func(o *SubscribeOptions) { o.Channel = channel }
}

// WithSubscriberPriority orders the subscriber (higher runs first).
func WithSubscriberPriority(p int) SubscribeOption {
	return func(o *SubscribeOptions) { o.Priority = p }
}

// WithReplay requests historical delivery of up to count messages.
func WithReplay(count int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.Replay = true
		o.ReplayCount = count
	}
}

// Subscribe registers a subscriber on a topic and returns the subscription
// ID. The topic and its channel are created if absent. With replay enabled,
// retained messages are delivered chronologically before Subscribe returns;
// individual replay failures are counted but do not abort the rest. A message
// delivered live while Subscribe is still running is not replayed again.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn SubscriberFunc, opts ...SubscribeOption) (string, error) {
	so := SubscribeOptions{Channel: DefaultChannel}
	for _, opt := range opts {
		opt(&so)
	}
	if so.Channel == "" {
		so.Channel = DefaultChannel
	}

	if err := validateTopicName("topic", topic); err != nil {
		return "", err
	}
	if err := validateTopicName("channel", so.Channel); err != nil {
		return "", err
	}

	sub := &Subscription{
		id:      uuid.New().String(),
		topic:   topic,
		channel: so.Channel,
		seen:    make(map[string]struct{}),
	}

	listenerID, err := b.dispatcher.On(b.key(so.Channel, topic),
		func(ctx context.Context, data any) (any, error) {
			msg, ok := data.(*Message)
			if !ok {
				return nil, fmt.Errorf("unexpected bus payload %T", data)
			}
			return nil, sub.deliver(ctx, msg, fn)
		},
		dispatch.WithPriority(so.Priority),
	)
	if err != nil {
		return "", err
	}
	sub.listenerID = listenerID

	var replayMsgs []*Message
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.dispatcher.Off(listenerID)
		return "", teverrors.ErrBusClosed
	}
	ts := b.ensureTopicLocked(so.Channel, topic)
	ts.subscriberCount++
	b.ensureChannelLocked(so.Channel).subscriberCount++
	b.subs[sub.id] = sub
	if so.Replay {
		replayMsgs = replaySlice(ts.history, so.ReplayCount)
	}
	b.mu.Unlock()

	for _, msg := range replayMsgs {
		// Failures are recorded on the subscription stats; replay continues.
		_ = sub.deliver(ctx, msg, fn)
	}
	sub.closeSubscribeWindow()

	return sub.id, nil
}

// replaySlice returns the newest count messages in chronological order.
func replaySlice(history []*Message, count int) []*Message {
	if count <= 0 || count > len(history) {
		count = len(history)
	}
	out := make([]*Message, count)
	copy(out, history[len(history)-count:])
	return out
}

// deliver invokes the subscriber unless the subscription is paused or the
// message expired.
func (s *Subscription) deliver(ctx context.Context, msg *Message, fn SubscriberFunc) error {
	if s.paused.Load() {
		return nil
	}
	if msg.Expired(time.Now()) {
		return nil
	}
	if !s.firstDelivery(msg.ID) {
		return nil
	}

	err := fn(ctx, msg)

	s.mu.Lock()
	s.stats.MessagesReceived++
	s.stats.LastMessageAt = time.Now()
	if err != nil {
		s.stats.Errors++
	}
	s.mu.Unlock()

	return err
}

// Unsubscribe removes a subscription and its dispatcher listener. Returns
// false if the ID is unknown.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.subs, subscriptionID)

	if ts, ok := b.topics[b.key(sub.channel, sub.topic)]; ok && ts.subscriberCount > 0 {
		ts.subscriberCount--
	}
	if ch, ok := b.channels[sub.channel]; ok && ch.subscriberCount > 0 {
		ch.subscriberCount--
	}
	b.mu.Unlock()

	b.dispatcher.Off(sub.listenerID)
	return true
}

// Pause suspends delivery for a subscription. Messages published while
// paused are skipped, not buffered.
func (b *Bus) Pause(subscriptionID string) bool {
	if sub := b.subscription(subscriptionID); sub != nil {
		sub.paused.Store(true)
		return true
	}
	return false
}

// Resume re-enables delivery for a paused subscription.
func (b *Bus) Resume(subscriptionID string) bool {
	if sub := b.subscription(subscriptionID); sub != nil {
		sub.paused.Store(false)
		return true
	}
	return false
}

// IsPaused reports whether a subscription is paused.
func (b *Bus) IsPaused(subscriptionID string) bool {
	sub := b.subscription(subscriptionID)
	return sub != nil && sub.paused.Load()
}

// SubscriptionStatsFor returns a snapshot of a subscription's counters.
func (b *Bus) SubscriptionStatsFor(subscriptionID string) (SubscriptionStats, bool) {
	sub := b.subscription(subscriptionID)
	if sub == nil {
		return SubscriptionStats{}, false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.stats, true
}

func (b *Bus) subscription(id string) *Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs[id]
}
