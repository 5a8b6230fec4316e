package calls

import (
	"context"
	encjson "encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*fixture, *Relay) {
	t.Helper()
	f := newFixture(t)
	f.createRoom(t, "room-1")
	return f, NewRelay(f.manager, feed.NewBroker(f.store, 50*time.Millisecond, 8))
}

func offer(from, to string, n int) models.SendSignalRequest {
	return models.SendSignalRequest{
		RoomID: "room-1",
		From:   from,
		To:     to,
		Signal: encjson.RawMessage(fmt.Sprintf(`{"type":"candidate","candidate":"c%d"}`, n)),
	}
}

func TestSendSignal(t *testing.T) {
	_, relay := newRelay(t)

	sig, err := relay.Send(context.Background(), models.SendSignalRequest{
		RoomID: "room-1",
		From:   "d1",
		To:     "p1",
		Signal: encjson.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SignalTypeOffer, sig.Type)
	assert.Equal(t, "d1", sig.From)
	assert.Equal(t, "p1", sig.To)
	assert.NotEmpty(t, sig.Cursor)
	assert.False(t, sig.Timestamp.IsZero())
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Data))
}

func TestSendSignalRejects(t *testing.T) {
	f, relay := newRelay(t)
	ctx := context.Background()

	cases := map[string]struct {
		req  models.SendSignalRequest
		kind apperr.Kind
	}{
		"missing type": {
			req:  models.SendSignalRequest{RoomID: "room-1", From: "d1", To: "p1", Signal: encjson.RawMessage(`{"sdp":"v=0"}`)},
			kind: apperr.ValidationError,
		},
		"to self": {
			req:  models.SendSignalRequest{RoomID: "room-1", From: "d1", To: "d1", Signal: encjson.RawMessage(`{"type":"offer"}`)},
			kind: apperr.ValidationError,
		},
		"outsider recipient": {
			req:  models.SendSignalRequest{RoomID: "room-1", From: "d1", To: "x", Signal: encjson.RawMessage(`{"type":"offer"}`)},
			kind: apperr.ValidationError,
		},
		"outsider sender": {
			req:  models.SendSignalRequest{RoomID: "room-1", From: "x", To: "p1", Signal: encjson.RawMessage(`{"type":"offer"}`)},
			kind: apperr.ValidationError,
		},
		"unknown room": {
			req:  models.SendSignalRequest{RoomID: "nope", From: "d1", To: "p1", Signal: encjson.RawMessage(`{"type":"offer"}`)},
			kind: apperr.NotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := relay.Send(ctx, tc.req)
			assert.True(t, apperr.Is(err, tc.kind), "got %v", err)
		})
	}

	_, err := f.manager.SetStatus(ctx, "room-1", models.StatusEnded)
	require.NoError(t, err)
	_, err = relay.Send(ctx, offer("d1", "p1", 0))
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))
}

func TestRecentSignals(t *testing.T) {
	_, relay := newRelay(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := relay.Send(ctx, offer("d1", "p1", i))
		require.NoError(t, err)
	}
	_, err := relay.Send(ctx, offer("p1", "d1", 99))
	require.NoError(t, err)

	recent, err := relay.Recent(ctx, "room-1", "p1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.JSONEq(t, `{"type":"candidate","candidate":"c4"}`, string(recent[0].Data))
	assert.JSONEq(t, `{"type":"candidate","candidate":"c2"}`, string(recent[2].Data))
	for _, sig := range recent {
		assert.Equal(t, "p1", sig.To)
	}

	all, err := relay.Recent(ctx, "room-1", "d1", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p1", all[0].From)

	_, err = relay.Recent(ctx, "nope", "p1", 10)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestStreamDeliversBurstInOrder(t *testing.T) {
	_, relay := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const burst = 40
	for i := 0; i < burst; i++ {
		_, err := relay.Send(ctx, offer("d1", "p1", i))
		require.NoError(t, err)
		_, err = relay.Send(ctx, offer("p1", "d1", i))
		require.NoError(t, err)
	}

	stream, err := relay.Stream(ctx, "room-1", "p1", feed.From(store.Cursor{}))
	require.NoError(t, err)
	defer stream.Close()

	var last store.Cursor
	for i := 0; i < burst; i++ {
		select {
		case ev := <-stream.Events():
			assert.True(t, last.Less(ev.Cursor))
			last = ev.Cursor
			assert.Equal(t, "d1", ev.Payload.From)
			frame := ev.Payload.Frame()
			assert.JSONEq(t, fmt.Sprintf(`{"type":"candidate","candidate":"c%d"}`, i), string(frame.Data))
		case <-ctx.Done():
			t.Fatalf("timed out after %d signals", i)
		}
	}
}

func TestStreamFollowsLiveSignals(t *testing.T) {
	_, relay := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := relay.Send(ctx, offer("d1", "p1", 0))
	require.NoError(t, err)

	stream, err := relay.Stream(ctx, "room-1", "p1", feed.Latest)
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = relay.Send(context.Background(), offer("d1", "p1", 1))
	}()

	select {
	case ev := <-stream.Events():
		assert.JSONEq(t, `{"type":"candidate","candidate":"c1"}`, string(ev.Payload.Data))
	case <-ctx.Done():
		t.Fatal("no live signal delivered")
	}
}

func TestStreamResumesAfterCursor(t *testing.T) {
	_, relay := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := relay.Send(ctx, offer("d1", "p1", 0))
	require.NoError(t, err)
	_, err = relay.Send(ctx, offer("d1", "p1", 1))
	require.NoError(t, err)

	cursor, err := store.ParseCursor(first.Cursor)
	require.NoError(t, err)
	stream, err := relay.Stream(ctx, "room-1", "p1", feed.From(cursor))
	require.NoError(t, err)
	defer stream.Close()

	ev := <-stream.Events()
	assert.JSONEq(t, `{"type":"candidate","candidate":"c1"}`, string(ev.Payload.Data))
}

func TestStreamRejects(t *testing.T) {
	f, relay := newRelay(t)
	ctx := context.Background()

	_, err := relay.Stream(ctx, "room-1", "stranger", feed.Latest)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = relay.Stream(ctx, "nope", "p1", feed.Latest)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = f.manager.SetStatus(ctx, "room-1", models.StatusEnded)
	require.NoError(t, err)
	_, err = relay.Stream(ctx, "room-1", "p1", feed.Latest)
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))
}

func TestEndedRoomSignalsExpire(t *testing.T) {
	f, relay := newRelay(t)
	ctx := context.Background()

	_, err := relay.Send(ctx, offer("d1", "p1", 0))
	require.NoError(t, err)
	_, err = f.manager.SetStatus(ctx, "room-1", models.StatusEnded)
	require.NoError(t, err)

	recent, err := relay.Recent(ctx, "room-1", "p1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	f.store.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	recent, err = relay.Recent(ctx, "room-1", "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestSignalTopicsDoNotCollideWithRooms(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "callsignals:room-1:p1", SignalTopic("room-1", "p1"))
	assert.False(t, strings.HasPrefix(SignalTopic("a", "b"), "callroom:"))

	_, err := f.manager.Create(context.Background(), models.CreateRoomRequest{
		RoomID:    "a:signals:b",
		PatientID: "p1",
		DoctorID:  "d1",
		Type:      "video",
	})
	assert.True(t, apperr.Is(err, apperr.ValidationError))
}
