package events

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/domain"
)

func receive(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
	return Envelope{}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx, "sup-1")
	assert.Equal(t, EventConnectedUsers, receive(t, a).Event)
	b := h.Subscribe(ctx, "tec-1")
	presence := receive(t, a)
	assert.Equal(t, ConnectedUsers{Users: []string{"sup-1", "tec-1"}}, presence.Data)
	receive(t, b)

	h.NotifyPermit(ctx, PermitNotification{
		Type:    PermitNew,
		Permiso: PermitPayloadOf(domain.Permit{ID: "p1", State: domain.PermitPending}),
	})
	for _, ch := range []<-chan Envelope{a, b} {
		env := receive(t, ch)
		assert.Equal(t, EventPermit, env.Event)
		n, ok := env.Data.(PermitNotification)
		require.True(t, ok)
		assert.Equal(t, "p1", n.Permiso.ID)
		_, err := ulid.ParseStrict(env.ID)
		assert.NoError(t, err)
	}
}

func TestHubIDsAreOrdered(t *testing.T) {
	h := NewHub(nil, nil)
	fixed := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	h.Now = func() time.Time { return fixed }
	first := h.Publish(JobNotification{Type: JobStarted})
	second := h.Publish(JobNotification{Type: JobApproved})
	assert.Less(t, first.ID, second.ID)
	assert.Equal(t, fixed, first.OccurredAt)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx, "tec-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < h.buffer*2; i++ {
			h.Publish(JobNotification{Type: JobStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, h.buffer)
}

func TestHubPresenceOnLeave(t *testing.T) {
	h := NewHub(nil, nil)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	watcher := h.Subscribe(watchCtx, "")
	receive(t, watcher)

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "tec-1")
	joined := receive(t, watcher)
	assert.Equal(t, ConnectedUsers{Users: []string{"tec-1"}}, joined.Data)
	assert.Equal(t, []string{"tec-1"}, h.Connected())

	cancel()
	for range ch {
	}
	left := receive(t, watcher)
	assert.Equal(t, ConnectedUsers{Users: []string{}}, left.Data)
	assert.Empty(t, h.Connected())
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	n.NotifyPermit(context.Background(), PermitNotification{})
	n.NotifyJob(context.Background(), JobNotification{})
}
