package bus

import "time"

// HistoryOptions filters and paginates a topic's retained history.
type HistoryOptions struct {
	// Channel selects the channel; empty uses the bus default channel.
	Channel string

	// Limit bounds the number of returned messages. Zero means no limit.
	Limit int

	// Offset skips that many messages from the start of the filtered set.
	Offset int

	// Since keeps only messages published at or after this time.
	Since time.Time

	// Until keeps only messages published at or before this time.
	Until time.Time
}

// GetMessageHistory returns the topic's retained messages in publish order,
// filtered by time window and paginated. A missing topic yields an empty
// slice.
func (b *Bus) GetMessageHistory(topic string, opts HistoryOptions) []*Message {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	b.mu.RLock()
	ts, ok := b.topics[b.key(channel, topic)]
	if !ok {
		b.mu.RUnlock()
		return []*Message{}
	}
	history := make([]*Message, len(ts.history))
	copy(history, ts.history)
	b.mu.RUnlock()

	filtered := history[:0]
	for _, msg := range history {
		if !opts.Since.IsZero() && msg.Metadata.PublishedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && msg.Metadata.PublishedAt.After(opts.Until) {
			continue
		}
		filtered = append(filtered, msg)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*Message{}
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	out := make([]*Message, len(filtered))
	copy(out, filtered)
	return out
}
