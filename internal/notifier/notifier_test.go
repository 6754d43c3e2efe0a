package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-core/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakePublisher fails the first failures calls, then records deliveries
type fakePublisher struct {
	mu        sync.Mutex
	failures  int32
	calls     atomic.Int32
	delivered []models.Notification
	block     chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, n models.Notification) error {
	if f.block != nil {
		<-f.block
	}
	call := f.calls.Add(1)
	if call <= f.failures {
		return errors.New("backend unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, n)
	return nil
}

func (f *fakePublisher) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testNotification(userID string) models.Notification {
	return New(userID, "a1", models.NotificationOutbid, "you have been outbid", time.Now())
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	d := NewDispatcher(pub, Options{Workers: 2, QueueSize: 16, RetryBackoff: time.Millisecond})

	for i := 0; i < 10; i++ {
		d.Notify(testNotification("u1"))
	}
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 10, pub.deliveredCount())

	// notify after close is dropped, not a panic
	d.Notify(testNotification("u1"))
	require.Equal(t, 10, pub.deliveredCount())
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		failures      int32
		maxRetries    int
		wantDelivered int
		wantCalls     int32
	}{
		{name: "succeeds_after_retries", failures: 2, maxRetries: 3, wantDelivered: 1, wantCalls: 3},
		{name: "gives_up", failures: 10, maxRetries: 2, wantDelivered: 0, wantCalls: 3},
		{name: "no_retries", failures: 1, maxRetries: 0, wantDelivered: 0, wantCalls: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pub := &fakePublisher{failures: tc.failures}
			d := NewDispatcher(pub, Options{Workers: 1, MaxRetries: tc.maxRetries, RetryBackoff: time.Millisecond})
			d.Notify(testNotification("u1"))
			require.NoError(t, d.Close(context.Background()))

			require.Equal(t, tc.wantDelivered, pub.deliveredCount())
			require.Equal(t, tc.wantCalls, pub.calls.Load())
		})
	}
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{block: make(chan struct{})}
	d := NewDispatcher(pub, Options{Workers: 1, QueueSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Notify(testNotification("u1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(pub.block)
	require.NoError(t, d.Close(context.Background()))
	require.Less(t, pub.deliveredCount(), 100)
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &fakePublisher{}
	failing := &fakePublisher{failures: 1}
	m := Multi{ok, failing, LogPublisher{}}

	err := m.Publish(context.Background(), testNotification("u1"))
	require.Error(t, err)
	require.Equal(t, 1, ok.deliveredCount())
	require.Equal(t, 0, failing.deliveredCount())
	require.Equal(t, int32(1), failing.calls.Load())
}

func TestDispatcher_RetriesOnlyFailedBackends(t *testing.T) {
	t.Parallel()

	healthy := &fakePublisher{}
	flaky := &fakePublisher{failures: 2}
	nestedHealthy := &fakePublisher{}
	d := NewDispatcher(Multi{healthy, Multi{flaky, nestedHealthy}}, Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	d.Notify(testNotification("u1"))
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, 1, healthy.deliveredCount())
	require.Equal(t, int32(1), healthy.calls.Load())
	require.Equal(t, 1, nestedHealthy.deliveredCount())
	require.Equal(t, 1, flaky.deliveredCount())
	require.Equal(t, int32(3), flaky.calls.Load())
}

func TestNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "notifications:u1", RedisChannel("u1"))
	require.Equal(t, "auction.notifications.won", NATSSubject(models.NotificationWon))
}

func TestHub_StreamsUserNotifications(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimPrefix(r.URL.Path, "/ws/users/")
		_ = hub.ServeUser(w, r, userID)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users/u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	// other users' notifications are not delivered to u1
	require.NoError(t, hub.Publish(context.Background(), testNotification("u2")))
	want := testNotification("u1")
	require.NoError(t, hub.Publish(context.Background(), want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.Notification
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, want.NotificationID, got.NotificationID)
	require.Equal(t, "u1", got.UserID)

	hub.Close()
	require.Equal(t, 0, hub.Connections("u1"))
}
