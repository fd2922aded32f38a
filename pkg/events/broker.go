package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// listenTimeout bounds how long a LISTEN command may block when subscribing
// to a new PG channel. Without this, a stalled connection would block the
// subscribing goroutine indefinitely.
const listenTimeout = 10 * time.Second

// subscriptionBuffer is the per-subscription event buffer. A subscriber
// that falls this far behind starts losing events; persistent events are
// recoverable via Publisher.CatchupEvents.
const subscriptionBuffer = 64

// Subscription is one consumer's view of a channel. Events arrives on C as
// raw NOTIFY payloads. Close the subscription via Broker.Unsubscribe.
type Subscription struct {
	ID      string
	Channel string
	C       chan []byte
}

// Broker fans NOTIFY payloads out to in-process subscribers. Each pod has
// one Broker; the NotifyListener dispatches received notifications into it.
// The first subscriber on a channel triggers LISTEN, the last one leaving
// triggers UNLISTEN.
type Broker struct {
	// Channel subscriptions: channel → subscription_id → *Subscription
	channels  map[string]map[string]*Subscription
	channelMu sync.RWMutex

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		channels: make(map[string]map[string]*Subscription),
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both Broker and NotifyListener exist.
func (b *Broker) SetListener(l *NotifyListener) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	b.listener = l
}

// Subscribe registers a consumer for a channel and starts LISTEN if it is
// the first subscriber. LISTEN is synchronous so it completes before
// Subscribe returns — events published afterwards are guaranteed to be
// received (or surfaced as a subscribe error, never silently dropped).
func (b *Broker) Subscribe(channel string) (*Subscription, error) {
	sub := &Subscription{
		ID:      uuid.New().String(),
		Channel: channel,
		C:       make(chan []byte, subscriptionBuffer),
	}

	b.channelMu.Lock()
	needsListen := false
	if _, exists := b.channels[channel]; !exists {
		b.channels[channel] = make(map[string]*Subscription)
		needsListen = true
	}
	b.channels[channel][sub.ID] = sub
	b.channelMu.Unlock()

	if needsListen {
		b.listenerMu.RLock()
		l := b.listener
		b.listenerMu.RUnlock()
		if l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				b.removeSubscription(sub)
				return nil, fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	return sub, nil
}

// Unsubscribe removes a subscription and stops LISTEN if it was the last
// one on its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.removeSubscription(sub)
	close(sub.C)
}

// removeSubscription detaches a subscription from the channel map and
// issues UNLISTEN when the channel empties. The goroutine re-checks
// b.channels before issuing UNLISTEN to prevent a race where a rapid
// unsubscribe/resubscribe cycle would drop the LISTEN.
func (b *Broker) removeSubscription(sub *Subscription) {
	b.channelMu.Lock()
	subs, exists := b.channels[sub.Channel]
	if exists {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.channels, sub.Channel)

			b.listenerMu.RLock()
			l := b.listener
			b.listenerMu.RUnlock()
			if l != nil {
				channel := sub.Channel
				go func() {
					b.channelMu.RLock()
					_, resubscribed := b.channels[channel]
					b.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	b.channelMu.Unlock()
}

// Broadcast delivers an event payload to all subscriptions on the channel.
// Delivery is non-blocking: a subscriber whose buffer is full loses the
// event rather than stalling the dispatch loop.
func (b *Broker) Broadcast(channel string, event []byte) {
	b.channelMu.RLock()
	subs := make([]*Subscription, 0, len(b.channels[channel]))
	for _, sub := range b.channels[channel] {
		subs = append(subs, sub)
	}
	b.channelMu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.C <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"subscription_id", sub.ID, "channel", channel)
		}
	}
}

// SubscriberCount returns the number of subscriptions on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.channelMu.RLock()
	defer b.channelMu.RUnlock()
	return len(b.channels[channel])
}
