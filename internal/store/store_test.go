package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) Store { return NewMemory() }},
		{name: "redis", open: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedis(client)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func testRoom(id string, created time.Time) models.CallRoom {
	return models.CallRoom{
		ID:        id,
		PatientID: "p1",
		DoctorID:  "d1",
		Type:      "video",
		Status:    models.StatusWaiting,
		CreatedAt: created.UTC().Truncate(time.Millisecond),
	}
}

func TestParseCursor(t *testing.T) {
	c, err := ParseCursor("1700000000123-4")
	require.NoError(t, err)
	assert.Equal(t, Cursor{Millis: 1700000000123, Seq: 4}, c)
	assert.Equal(t, "1700000000123-4", c.String())

	c, err = ParseCursor("42")
	require.NoError(t, err)
	assert.Equal(t, Cursor{Millis: 42}, c)

	_, err = ParseCursor("abc-1")
	assert.Error(t, err)
	_, err = ParseCursor("-5")
	assert.Error(t, err)

	assert.True(t, Cursor{Millis: 1, Seq: 9}.Less(Cursor{Millis: 2}))
	assert.True(t, Cursor{Millis: 2, Seq: 0}.Less(Cursor{Millis: 2, Seq: 1}))
	assert.False(t, Cursor{Millis: 2, Seq: 1}.Less(Cursor{Millis: 2, Seq: 1}))
}

func TestRooms(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			base := time.Now()

			room := testRoom("r1", base)
			require.NoError(t, s.InsertRoom(ctx, room))
			assert.ErrorIs(t, s.InsertRoom(ctx, room), ErrAlreadyExists)

			got, err := s.GetRoom(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, room.ID, got.ID)
			assert.Equal(t, models.StatusWaiting, got.Status)
			assert.True(t, room.CreatedAt.Equal(got.CreatedAt))
			assert.Nil(t, got.StartedAt)
			assert.Nil(t, got.EndedAt)

			_, err = s.GetRoom(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			started := base.Add(time.Second).UTC().Truncate(time.Millisecond)
			updated, err := s.UpdateRoomStatus(ctx, "r1", models.StatusWaiting, RoomPatch{
				Status:    models.StatusActive,
				StartedAt: &started,
			})
			require.NoError(t, err)
			assert.Equal(t, models.StatusActive, updated.Status)
			require.NotNil(t, updated.StartedAt)
			assert.True(t, started.Equal(*updated.StartedAt))

			_, err = s.UpdateRoomStatus(ctx, "r1", models.StatusWaiting, RoomPatch{Status: models.StatusEnded})
			assert.ErrorIs(t, err, ErrStatusConflict)

			_, err = s.UpdateRoomStatus(ctx, "missing", models.StatusWaiting, RoomPatch{Status: models.StatusActive})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListRooms(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			base := time.Now().Add(-time.Hour)

			for i := 0; i < 4; i++ {
				room := testRoom(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))
				if i == 3 {
					room.DoctorID = "d2"
				}
				require.NoError(t, s.InsertRoom(ctx, room))
			}
			_, err := s.UpdateRoomStatus(ctx, "r1", models.StatusWaiting, RoomPatch{Status: models.StatusEnded})
			require.NoError(t, err)

			rooms, err := s.ListRooms(ctx, RoomQuery{
				DoctorID: "d1",
				Statuses: []models.CallStatus{models.StatusWaiting, models.StatusActive},
			})
			require.NoError(t, err)
			require.Len(t, rooms, 2)
			assert.Equal(t, "r2", rooms[0].ID)
			assert.Equal(t, "r0", rooms[1].ID)

			rooms, err = s.ListRooms(ctx, RoomQuery{CreatedBefore: base.Add(90 * time.Second)})
			require.NoError(t, err)
			require.Len(t, rooms, 2)
			assert.Equal(t, "r1", rooms[0].ID)

			rooms, err = s.ListRooms(ctx, RoomQuery{PatientID: "p1", Limit: 1})
			require.NoError(t, err)
			require.Len(t, rooms, 1)
			assert.Equal(t, "r3", rooms[0].ID)
		})
	}
}

func TestLogAppendReadRecent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			var appended []Entry
			for i := 0; i < 5; i++ {
				e, err := s.Append(ctx, "topic", []byte(fmt.Sprintf("m%d", i)), 0)
				require.NoError(t, err)
				if len(appended) > 0 {
					assert.True(t, appended[len(appended)-1].Cursor.Less(e.Cursor))
				}
				appended = append(appended, e)
			}

			entries, err := s.Read(ctx, "topic", Cursor{}, 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, 5)
			assert.Equal(t, "m0", string(entries[0].Body))

			entries, err = s.Read(ctx, "topic", appended[1].Cursor, 2, 0)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "m2", string(entries[0].Body))
			assert.Equal(t, "m3", string(entries[1].Body))

			entries, err = s.Read(ctx, "topic", appended[4].Cursor, 10, 0)
			require.NoError(t, err)
			assert.Empty(t, entries)

			recent, err := s.Recent(ctx, "topic", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "m4", string(recent[0].Body))
			assert.Equal(t, "m3", string(recent[1].Body))

			recent, err = s.Recent(ctx, "other", 2)
			require.NoError(t, err)
			assert.Empty(t, recent)

			require.NoError(t, s.Delete(ctx, "topic"))
			recent, err = s.Recent(ctx, "topic", 0)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestLogReadWakesOnAppend(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			var wg sync.WaitGroup
			var got []Entry
			var readErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, readErr = s.Read(ctx, "wake", Cursor{}, 10, 5*time.Second)
			}()

			time.Sleep(50 * time.Millisecond)
			_, err := s.Append(ctx, "wake", []byte("hello"), 0)
			require.NoError(t, err)

			wg.Wait()
			require.NoError(t, readErr)
			require.Len(t, got, 1)
			assert.Equal(t, "hello", string(got[0].Body))
		})
	}
}

func TestMemoryReadTimeoutAndCancel(t *testing.T) {
	s := NewMemory()

	start := time.Now()
	entries, err := s.Read(context.Background(), "idle", Cursor{}, 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Read(ctx, "idle", Cursor{}, 10, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCursorsNeverDecrease(t *testing.T) {
	s := NewMemory()
	fixed := time.UnixMilli(5000)
	s.SetClock(func() time.Time { return fixed })

	a, _ := s.Append(context.Background(), "a", []byte("1"), 0)
	b, _ := s.Append(context.Background(), "b", []byte("2"), 0)

	fixed = time.UnixMilli(4000)
	c, _ := s.Append(context.Background(), "a", []byte("3"), 0)

	assert.Equal(t, Cursor{Millis: 5000, Seq: 0}, a.Cursor)
	assert.Equal(t, Cursor{Millis: 5000, Seq: 1}, b.Cursor)
	assert.Equal(t, Cursor{Millis: 5000, Seq: 2}, c.Cursor)
}

func TestMemoryExpireAndTrim(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "capped", []byte(fmt.Sprintf("m%d", i)), 3)
		require.NoError(t, err)
	}
	entries, err := s.Read(ctx, "capped", Cursor{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", string(entries[0].Body))

	require.NoError(t, s.Expire(ctx, "capped", time.Minute))
	now = now.Add(2 * time.Minute)
	recent, err := s.Recent(ctx, "capped", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMemoryReadsDoNotReviveTopics(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	_, err := s.Append(ctx, "callsignals:r1:p1", []byte("offer"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "callsignals:r1:p1", time.Hour))
	now = now.Add(2 * time.Hour)

	for _, topic := range []string{"callsignals:r1:p1", "notifications:nobody"} {
		entries, err := s.Read(ctx, topic, Cursor{}, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		entries, err = s.Read(ctx, topic, Cursor{}, 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.topics)
	assert.Empty(t, s.waiters)
}

func TestMemoryWaitersReleased(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	done := make(chan []Entry)
	for i := 0; i < 2; i++ {
		go func() {
			entries, _ := s.Read(ctx, "notifications:u1", Cursor{}, 10, 5*time.Second)
			done <- entries
		}()
	}
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		w, ok := s.waiters["notifications:u1"]
		return ok && w.readers == 2
	}, time.Second, 5*time.Millisecond)

	_, err := s.Append(ctx, "notifications:u1", []byte("hello"), 0)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		entries := <-done
		require.Len(t, entries, 1)
		assert.Equal(t, "hello", string(entries[0].Body))
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Read(cctx, "notifications:u2", Cursor{}, 10, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.waiters)
}

func TestRedisExpire(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	_, err := s.Append(ctx, "signals", []byte("x"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "signals", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("signals"))

	mr.FastForward(2 * time.Minute)
	recent, err := s.Recent(ctx, "signals", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
