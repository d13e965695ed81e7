package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByRide(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	e := New(RideMatched, "r1", []Audience{Driver("d2")}, map[string]any{"driver_id": "d1"})
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "r1", string(w.msgs[0].Key))
	assert.Equal(t, "ride.matched", string(w.msgs[0].Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, RideMatched, decoded.Name)
	assert.Equal(t, []Audience{Driver("d2")}, decoded.Audience)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	bad := &failingPublisher{}
	w := &fakeWriter{}
	err := Fanout{bad, &KafkaPublisher{writer: w}}.Publish(context.Background(), New(RideNew, "r1", nil, nil))
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, w.msgs, 1)
}

type collecting struct {
	mu     sync.Mutex
	events []Event
}

func (c *collecting) Publish(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func TestAsyncPublishesInOrder(t *testing.T) {
	c := &collecting{}
	a := NewAsync(c, 8, nil)
	for _, n := range []Name{RideNew, BidReceived, BidAccepted} {
		require.NoError(t, a.Publish(context.Background(), New(n, "r1", nil, nil)))
	}
	a.Close()
	require.Len(t, c.events, 3)
	assert.Equal(t, BidAccepted, c.events[2].Name)
	assert.NoError(t, a.Publish(context.Background(), New(RideNew, "r2", nil, nil)))
}

func TestHubDeliversToMatchingSessions(t *testing.T) {
	hub := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		hub.Serve(conn, Identity{Kind: AudienceKind(q.Get("kind")), ID: q.Get("id"), Rooms: q["room"]})
	}))
	defer srv.Close()

	dial := func(query string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	driver := dial("kind=driver&id=d1&room=drivers:taxi")
	passenger := dial("kind=passenger&id=p1")

	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), New(RideNew, "r1", []Audience{Room(DriverRoom("taxi"))}, nil)))
	require.NoError(t, hub.Publish(context.Background(), New(BidReceived, "r1", []Audience{Passenger("p1")}, nil)))

	var got Event
	_ = driver.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, driver.ReadJSON(&got))
	assert.Equal(t, RideNew, got.Name)

	_ = passenger.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, passenger.ReadJSON(&got))
	assert.Equal(t, BidReceived, got.Name)
}

type fakeMessenger struct {
	sent []*messaging.Message
}

func (m *fakeMessenger) Send(_ context.Context, msg *messaging.Message) (string, error) {
	m.sent = append(m.sent, msg)
	return "msg-1", nil
}

type staticTokens map[string]string

func (s staticTokens) DeviceToken(_ context.Context, kind AudienceKind, id string) (string, error) {
	return s[string(kind)+"/"+id], nil
}

func TestPushRoutesRoomsToTopicsAndUsersToTokens(t *testing.T) {
	m := &fakeMessenger{}
	p := &PushPublisher{msg: m, tokens: staticTokens{"driver/d1": "tok-d1"}}

	e := New(RideNew, "r1", []Audience{Room(DriverRoom("moto")), Driver("d1"), Driver("d2")}, map[string]any{"price": "12.00"})
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, m.sent, 2)
	assert.Equal(t, "drivers_moto", m.sent[0].Topic)
	assert.Equal(t, "tok-d1", m.sent[1].Token)
	assert.Equal(t, "12.00", m.sent[1].Data["price"])
	assert.Equal(t, "ride.new", m.sent[1].Data["type"])
}
