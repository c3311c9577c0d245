package events

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"permitline/internal/obs"
)

// Envelope wraps a notification for delivery.
type Envelope struct {
	ID         string       `json:"id"`
	Event      string       `json:"event"`
	OccurredAt time.Time    `json:"occurredAt"`
	Data       Notification `json:"data"`
}

type subscriber struct {
	actorID string
	ch      chan Envelope
}

// Hub fans notifications out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the envelope.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	buffer int

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	Logger  *zap.Logger
	Metrics *obs.Metrics
	Now     func() time.Time
}

func NewHub(logger *zap.Logger, metrics *obs.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:    make(map[int]*subscriber),
		buffer:  32,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		Logger:  logger,
		Metrics: metrics,
		Now:     time.Now,
	}
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Hub) newID(ts time.Time) string {
	h.entropyMu.Lock()
	defer h.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), h.entropy).String()
}

// Subscribe registers a listener for actorID. The channel is closed when ctx
// ends. Presence is rebroadcast on join and leave.
func (h *Hub) Subscribe(ctx context.Context, actorID string) <-chan Envelope {
	sub := &subscriber{actorID: actorID, ch: make(chan Envelope, h.buffer)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()
	h.Metrics.SubscribersChanged(1)
	h.Logger.Debug("subscriber joined", zap.String("actor_id", actorID), zap.Int("subscriber", id))
	h.Publish(ConnectedUsers{Users: h.Connected()})

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(sub.ch)
		h.mu.Unlock()
		h.Metrics.SubscribersChanged(-1)
		h.Logger.Debug("subscriber left", zap.String("actor_id", actorID), zap.Int("subscriber", id))
		h.Publish(ConnectedUsers{Users: h.Connected()})
	}()

	return sub.ch
}

// Connected returns the distinct actor ids with an open subscription.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[string]struct{}{}
	users := []string{}
	for _, s := range h.subs {
		if s.actorID == "" {
			continue
		}
		if _, ok := seen[s.actorID]; ok {
			continue
		}
		seen[s.actorID] = struct{}{}
		users = append(users, s.actorID)
	}
	sort.Strings(users)
	return users
}

// Publish delivers n to every subscriber.
func (h *Hub) Publish(n Notification) Envelope {
	ts := h.now().UTC()
	env := Envelope{ID: h.newID(ts), Event: n.Event(), OccurredAt: ts, Data: n}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.subs {
		select {
		case s.ch <- env:
		default:
			h.Metrics.NotificationDropped()
			h.Logger.Warn("subscriber buffer full, dropping notification",
				zap.Int("subscriber", id), zap.String("event", env.Event))
		}
	}
	h.Metrics.NotificationPublished(env.Event)
	return env
}

func (h *Hub) NotifyPermit(_ context.Context, n PermitNotification) {
	h.Publish(n)
}

func (h *Hub) NotifyJob(_ context.Context, n JobNotification) {
	h.Publish(n)
}
