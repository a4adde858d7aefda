package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// PollBus is the polling backend named alongside NotifyBus by spec.md §4.1:
// an operator without a spare connection to dedicate to LISTEN can run on a
// ticker instead. It has no teacher equivalent — the teacher only ever shipped
// WebSocket+NOTIFY — so it is built directly against the same
// GetEventsAfter/MaxID contract NotifyBus's catchup path already uses,
// keeping the two backends behaviorally identical from a subscriber's point
// of view (the only difference is how promptly "new data exists" is
// discovered).
type PollBus struct {
	events   EventSource
	interval time.Duration

	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPollBus constructs a polling Bus that checks every interval for new
// events on each subscribed channel.
func NewPollBus(events EventSource, interval time.Duration) *PollBus {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollBus{
		events:   events,
		interval: interval,
		subs:     make(map[string]map[int]chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the polling loop. Unlike NotifyBus there is no connection to
// establish up front; Start just launches the ticker goroutine.
func (b *PollBus) Start(context.Context) error {
	go b.run()
	return nil
}

func (b *PollBus) Close() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *PollBus) Publish(ctx context.Context, channel string, payload map[string]any) (*models.Event, error) {
	return b.events.PersistAndNotify(ctx, models.CreateEventRequest{Channel: channel, Payload: payload})
}

func (b *PollBus) GetEventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]*models.Event, error) {
	return b.events.GetEventsAfter(ctx, channel, afterID, limit)
}

func (b *PollBus) MaxID(ctx context.Context, channel string) (int64, error) {
	return b.events.MaxID(ctx, channel)
}

func (b *PollBus) Subscribe(channel string) (<-chan struct{}, func()) {
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan struct{})
	}
	id := b.next
	b.next++
	wake := make(chan struct{}, 1)
	b.subs[channel][id] = wake
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[channel], id)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
	}
	return wake, cancel
}

// run polls every subscribed channel's max ID each tick and wakes any
// subscriber whose last-known max advanced. There is deliberately no
// per-subscriber cursor here: waking is just "go re-check", and the actual
// cursor (afterID) lives with the caller, same as NotifyBus.
func (b *PollBus) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	lastMax := make(map[string]int64)

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		channels := make([]string, 0, len(b.subs))
		for ch := range b.subs {
			channels = append(channels, ch)
		}
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), b.interval)
		for _, ch := range channels {
			max, err := b.events.MaxID(ctx, ch)
			if err != nil {
				continue
			}
			if max > lastMax[ch] {
				lastMax[ch] = max
				b.wake(ch)
			}
		}
		cancel()
	}
}

func (b *PollBus) wake(channel string) {
	b.mu.Lock()
	wakers := make([]chan struct{}, 0, len(b.subs[channel]))
	for _, w := range b.subs[channel] {
		wakers = append(wakers, w)
	}
	b.mu.Unlock()

	for _, w := range wakers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}
