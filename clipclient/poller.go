package clipclient

import (
	"context"
	"io"
	"sync"
	"time"
)

// Status is the sync state surfaced after each poll.
type Status int

const (
	// StatusSynced means the fetch succeeded and nothing new arrived.
	StatusSynced Status = iota
	// StatusUpdated means new content was adopted and OnUpdate fired.
	StatusUpdated
	// StatusOffline means the fetch or decode failed; the loop retries on
	// the next tick with no backoff.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusUpdated:
		return "updated"
	case StatusOffline:
		return "offline"
	}
	return "unknown"
}

// DefaultInterval is the poll cadence used when none is configured.
const DefaultInterval = 2 * time.Second

// Subscription is a single-goroutine cooperative poll loop bound to one
// room. It fetches the room history on a fixed interval (plus once
// immediately on start) and fires OnUpdate only when the timestamp of the
// last entry advances past the held watermark; unchanged polls are
// idempotent no-ops. Switching rooms is a cancel-and-restart transition,
// never a second concurrent loop.
type Subscription struct {
	// OnUpdate receives the full fetched history whenever the watermark
	// advances. Optional.
	OnUpdate func([]Entry)
	// OnStatus receives the outcome of every poll. Optional.
	OnStatus func(Status)

	client   *Client
	interval time.Duration

	mu       sync.Mutex
	room     string
	lastSeen int64
	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}
}

// NewSubscription creates a stopped subscription for the given room. The
// watermark starts at -1, strictly below any valid timestamp including 0,
// so an empty room is absorbed without reporting an update.
func NewSubscription(c *Client, room string) *Subscription {
	return &Subscription{
		client:   c,
		interval: DefaultInterval,
		room:     room,
		lastSeen: -1,
		kick:     make(chan struct{}, 1),
	}
}

// SetInterval overrides the poll cadence. Must be called before Start.
func (s *Subscription) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Room returns the room currently being followed.
func (s *Subscription) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Start launches the poll loop. It polls once immediately, then on every
// interval tick and on every Kick. Calling Start on a running
// subscription restarts it.
func (s *Subscription) Start(ctx context.Context) {
	s.Stop()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	go s.run(runCtx, done)
}

// Stop cancels the poll loop and waits for it to exit. Safe to call on a
// stopped subscription.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Restart switches the subscription to a new room: the running loop is
// cancelled, the watermark reset to -1, and polling restarts immediately.
func (s *Subscription) Restart(ctx context.Context, room string) {
	s.Stop()
	s.mu.Lock()
	s.room = room
	s.lastSeen = -1
	s.mu.Unlock()
	s.Start(ctx)
}

// Kick requests one out-of-band poll without waiting for the next tick.
// Senders call it after a write so their own entry shows up immediately.
func (s *Subscription) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SendText posts a text entry to the followed room and kicks an immediate
// refresh on success.
func (s *Subscription) SendText(ctx context.Context, content string) error {
	if err := s.client.PostText(ctx, s.Room(), content); err != nil {
		return err
	}
	s.Kick()
	return nil
}

// SendFile uploads a binary entry to the followed room and kicks an
// immediate refresh on success.
func (s *Subscription) SendFile(ctx context.Context, filename string, src io.Reader) error {
	if err := s.client.Upload(ctx, s.Room(), filename, src); err != nil {
		return err
	}
	s.Kick()
	return nil
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.poll(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-s.kick:
			s.poll(ctx)
		}
	}
}

func (s *Subscription) poll(ctx context.Context) {
	hist, err := s.client.Get(ctx, s.Room())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.emitStatus(StatusOffline)
		return
	}

	if len(hist) == 0 {
		// An empty room counts as seen; never a spurious update.
		s.mu.Lock()
		if s.lastSeen < 0 {
			s.lastSeen = 0
		}
		s.mu.Unlock()
		s.emitStatus(StatusSynced)
		return
	}

	latest := hist[len(hist)-1].Timestamp
	s.mu.Lock()
	updated := latest > s.lastSeen
	if updated {
		s.lastSeen = latest
	}
	s.mu.Unlock()

	if updated {
		if s.OnUpdate != nil {
			s.OnUpdate(hist)
		}
		s.emitStatus(StatusUpdated)
		return
	}
	s.emitStatus(StatusSynced)
}

func (s *Subscription) emitStatus(st Status) {
	if s.OnStatus != nil {
		s.OnStatus(st)
	}
}
