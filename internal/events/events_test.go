package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), SubjectPlanGenerated, Event{UserID: "u1"}))
	assert.NoError(t, p.Close())
}

func TestEventEncoding(t *testing.T) {
	done := true
	data, err := json.Marshal(Event{
		UserID:    "u1",
		PlanID:    "p1",
		StepID:    "2",
		Completed: &done,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "2", got["step_id"])
	assert.Equal(t, true, got["completed"])
	assert.NotContains(t, got, "avatar")
}

func TestConnectFailsFast(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", nil)
	assert.Error(t, err)
}

// natsURL returns NATS_URL when set, otherwise the URL of an in-process
// server that lives for the test.
func natsURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func TestNATSPublisherRoundTrip(t *testing.T) {
	url := natsURL(t)

	pub, err := Connect(url, nil)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(SubjectPlanAccepted, received)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	require.NoError(t, pub.Publish(context.Background(), SubjectPlanAccepted, Event{UserID: "u1", PlanID: "p1"}))

	select {
	case msg := <-received:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "p1", ev.PlanID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	p := &NATSPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, SubjectPlanGenerated, Event{}), context.Canceled)
}
