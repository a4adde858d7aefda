package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// NotifyBus is the PostgreSQL LISTEN/NOTIFY backend. It is a direct port of
// the teacher's NotifyListener (pkg/events/listener.go): a single dedicated
// pgx.Conn owns a receive loop, and every LISTEN/UNLISTEN is routed through
// a command channel so only that one goroutine ever touches the connection
// — pgx connections aren't safe for concurrent use, and a LISTEN issued from
// another goroutine while the receive loop is mid-WaitForNotification would
// corrupt the protocol state.
//
// A per-channel generation counter guards against a stale UNLISTEN winning a
// race against a newer Subscribe: if channel c is unsubscribed and then
// resubscribed before the UNLISTEN command is processed, the UNLISTEN must
// not tear down the new subscription.
type NotifyBus struct {
	dsn    string
	events EventSource

	mu        sync.Mutex
	subs      map[string]map[int]chan struct{}
	nextSubID int
	listenGen map[string]int64

	cmdCh  chan listenCmd
	stopCh chan struct{}
	doneCh chan struct{}

	log *slog.Logger
}

type listenCmdKind int

const (
	cmdListen listenCmdKind = iota
	cmdUnlisten
)

type listenCmd struct {
	kind    listenCmdKind
	channel string
	gen     int64
}

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// NewNotifyBus constructs a LISTEN/NOTIFY-backed Bus. dsn is used to open a
// dedicated connection outside pool's control (pooled connections recycle
// and would silently drop LISTEN registrations). Call Start before use.
func NewNotifyBus(dsn string, events EventSource, log *slog.Logger) *NotifyBus {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyBus{
		dsn:       dsn,
		events:    events,
		subs:      make(map[string]map[int]chan struct{}),
		listenGen: make(map[string]int64),
		cmdCh:     make(chan listenCmd, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       log,
	}
}

// Start opens the dedicated connection and begins the receive loop. It
// blocks until the first connection succeeds or ctx is done.
func (b *NotifyBus) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("connecting notify listener: %w", err)
	}
	go b.receiveLoop(conn)
	return nil
}

func (b *NotifyBus) Close() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *NotifyBus) Publish(ctx context.Context, channel string, payload map[string]any) (*models.Event, error) {
	return b.events.PersistAndNotify(ctx, models.CreateEventRequest{Channel: channel, Payload: payload})
}

func (b *NotifyBus) GetEventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]*models.Event, error) {
	return b.events.GetEventsAfter(ctx, channel, afterID, limit)
}

func (b *NotifyBus) MaxID(ctx context.Context, channel string) (int64, error) {
	return b.events.MaxID(ctx, channel)
}

// Subscribe registers a wakeup channel for channel and asks the receive loop
// to LISTEN if this is the first subscriber. The wake channel is buffered
// (size 1) so a burst of NOTIFYs collapses into a single wakeup — callers
// always re-read via GetEventsAfter, so coalescing is safe and expected.
func (b *NotifyBus) Subscribe(channel string) (<-chan struct{}, func()) {
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan struct{})
	}
	first := len(b.subs[channel]) == 0
	id := b.nextSubID
	b.nextSubID++
	wake := make(chan struct{}, 1)
	b.subs[channel][id] = wake
	b.listenGen[channel]++
	gen := b.listenGen[channel]
	b.mu.Unlock()

	if first {
		b.cmdCh <- listenCmd{kind: cmdListen, channel: channel, gen: gen}
	}

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[channel], id)
		last := len(b.subs[channel]) == 0
		if last {
			delete(b.subs, channel)
		}
		gen := b.listenGen[channel]
		b.mu.Unlock()
		if last {
			b.cmdCh <- listenCmd{kind: cmdUnlisten, channel: channel, gen: gen}
		}
	}
	return wake, cancel
}

// receiveLoop owns the dedicated connection exclusively: it alternates
// between waiting for a NOTIFY and draining pending LISTEN/UNLISTEN commands,
// and reconnects with exponential backoff on any connection error.
func (b *NotifyBus) receiveLoop(conn *pgx.Conn) {
	defer close(b.doneCh)
	defer func() { _ = conn.Close(context.Background()) }()

	backoff := reconnectBaseDelay
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if waitCtx.Err() != nil {
				// plain timeout — fall through to drain commands and loop.
				b.processPendingCmds(conn)
				continue
			}
			b.log.Warn("notify listener connection error, reconnecting", "error", err)
			newConn, rerr := b.reconnect()
			if rerr != nil {
				select {
				case <-b.stopCh:
					return
				case <-time.After(backoff):
				}
				if backoff < reconnectMaxDelay {
					backoff *= 2
					if backoff > reconnectMaxDelay {
						backoff = reconnectMaxDelay
					}
				}
				continue
			}
			_ = conn.Close(context.Background())
			conn = newConn
			backoff = reconnectBaseDelay
			b.relisten(conn)
			continue
		}

		backoff = reconnectBaseDelay
		b.dispatch(notification.Channel)
		b.processPendingCmds(conn)
	}
}

func (b *NotifyBus) reconnect() (*pgx.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return pgx.Connect(ctx, b.dsn)
}

// relisten re-issues LISTEN for every channel with an active subscriber,
// after a reconnect replaced the underlying connection and lost all prior
// LISTEN registrations.
func (b *NotifyBus) relisten(conn *pgx.Conn) {
	b.mu.Lock()
	channels := make([]string, 0, len(b.subs))
	for ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		if _, err := conn.Exec(context.Background(), "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			b.log.Error("relisten failed", "channel", ch, "error", err)
		}
	}
}

// processPendingCmds drains cmdCh without blocking, applying LISTEN/UNLISTEN
// against conn. A command's gen is compared against the channel's current
// generation so a stale UNLISTEN (superseded by a newer Subscribe before the
// command was processed) is dropped rather than tearing down a live
// subscription.
func (b *NotifyBus) processPendingCmds(conn *pgx.Conn) {
	for {
		select {
		case cmd := <-b.cmdCh:
			b.applyCmd(conn, cmd)
		default:
			return
		}
	}
}

func (b *NotifyBus) applyCmd(conn *pgx.Conn, cmd listenCmd) {
	b.mu.Lock()
	current := b.listenGen[cmd.channel]
	stillWanted := len(b.subs[cmd.channel]) > 0
	b.mu.Unlock()

	ident := pgx.Identifier{cmd.channel}.Sanitize()
	switch cmd.kind {
	case cmdListen:
		if _, err := conn.Exec(context.Background(), "LISTEN "+ident); err != nil {
			b.log.Error("listen failed", "channel", cmd.channel, "error", err)
		}
	case cmdUnlisten:
		if cmd.gen != current || stillWanted {
			// a newer Subscribe arrived after this Unsubscribe was queued.
			return
		}
		if _, err := conn.Exec(context.Background(), "UNLISTEN "+ident); err != nil {
			b.log.Error("unlisten failed", "channel", cmd.channel, "error", err)
		}
	}
}

func (b *NotifyBus) dispatch(channel string) {
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
