package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/models"
)

type memoryTopic struct {
	entries  []Entry
	deadline time.Time
}

// waiter is how blocked readers learn about appends. It lives apart from the
// topic so an idle reader never keeps an expired or empty topic alive, and it
// is dropped once its last reader leaves.
type waiter struct {
	ch      chan struct{}
	readers int
}

// Memory is a process-local Store. Cursors are assigned from one clock
// shared by all topics, so they never decrease across the whole store.
type Memory struct {
	mu     sync.Mutex
	rooms  map[string]models.CallRoom
	topics map[string]*memoryTopic
	// waiters is keyed by topic; Append closes and removes the entry
	waiters map[string]*waiter
	last   Cursor
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms:  make(map[string]models.CallRoom),
		topics:  make(map[string]*memoryTopic),
		waiters: make(map[string]*waiter),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for cursors and expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) InsertRoom(_ context.Context, room models.CallRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[room.ID]; exists {
		return ErrAlreadyExists
	}
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, id string) (models.CallRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[id]
	if !exists {
		return models.CallRoom{}, ErrNotFound
	}
	return room, nil
}

func (m *Memory) UpdateRoomStatus(_ context.Context, id string, expected models.CallStatus, patch RoomPatch) (models.CallRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[id]
	if !exists {
		return models.CallRoom{}, ErrNotFound
	}
	if room.Status != expected {
		return models.CallRoom{}, ErrStatusConflict
	}

	room.Status = patch.Status
	if patch.StartedAt != nil {
		room.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		room.EndedAt = patch.EndedAt
	}
	m.rooms[id] = room
	return room, nil
}

func (m *Memory) ListRooms(_ context.Context, q RoomQuery) ([]models.CallRoom, error) {
	m.mu.Lock()
	var rooms []models.CallRoom
	for _, room := range m.rooms {
		if q.Matches(room) {
			rooms = append(rooms, room)
		}
	}
	m.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	if q.Limit > 0 && len(rooms) > q.Limit {
		rooms = rooms[:q.Limit]
	}
	return rooms, nil
}

// topic returns the live topic, dropping it first if it has expired.
// Only Append creates topics, so reads never revive one.
// Callers hold m.mu.
func (m *Memory) topic(name string, create bool) *memoryTopic {
	t, exists := m.topics[name]
	if exists && !t.deadline.IsZero() && !m.now().Before(t.deadline) {
		delete(m.topics, name)
		exists = false
	}
	if !exists {
		if !create {
			return nil
		}
		t = &memoryTopic{}
		m.topics[name] = t
	}
	return t
}

func (m *Memory) nextCursor() Cursor {
	ms := m.now().UnixMilli()
	if ms <= m.last.Millis {
		m.last.Seq++
	} else {
		m.last = Cursor{Millis: ms}
	}
	return m.last
}

func (m *Memory) Append(_ context.Context, topic string, body []byte, maxLen int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(topic, true)
	entry := Entry{Cursor: m.nextCursor(), Body: append([]byte(nil), body...)}
	t.entries = append(t.entries, entry)
	if maxLen > 0 && int64(len(t.entries)) > maxLen {
		t.entries = append([]Entry(nil), t.entries[int64(len(t.entries))-maxLen:]...)
	}

	if w, ok := m.waiters[topic]; ok {
		close(w.ch)
		delete(m.waiters, topic)
	}
	return entry, nil
}

// after returns entries past the cursor. When there are none and watch is
// set, it registers the caller as a reader waiting on the topic.
func (m *Memory) after(topic string, after Cursor, count int, watch bool) ([]Entry, *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.topic(topic, false); t != nil {
		i := sort.Search(len(t.entries), func(i int) bool {
			return after.Less(t.entries[i].Cursor)
		})
		end := len(t.entries)
		if count > 0 && i+count < end {
			end = i + count
		}
		if i < end {
			return append([]Entry(nil), t.entries[i:end]...), nil
		}
	}
	if !watch {
		return nil, nil
	}

	w, ok := m.waiters[topic]
	if !ok {
		w = &waiter{ch: make(chan struct{})}
		m.waiters[topic] = w
	}
	w.readers++
	return nil, w
}

func (m *Memory) unwatch(topic string, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.readers--
	if w.readers <= 0 && m.waiters[topic] == w {
		delete(m.waiters, topic)
	}
}

func (m *Memory) Read(ctx context.Context, topic string, after Cursor, count int, block time.Duration) ([]Entry, error) {
	entries, w := m.after(topic, after, count, block > 0)
	if w == nil {
		return entries, nil
	}

	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.unwatch(topic, w)
			return nil, ctx.Err()
		case <-timer.C:
			m.unwatch(topic, w)
			return nil, nil
		case <-w.ch:
		}

		// Append already dropped w from the map.
		entries, w = m.after(topic, after, count, true)
		if w == nil {
			return entries, nil
		}
	}
}

func (m *Memory) Recent(_ context.Context, topic string, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(topic, false)
	if t == nil {
		return nil, nil
	}

	n := len(t.entries)
	if count > 0 && count < n {
		n = count
	}
	entries := make([]Entry, 0, n)
	for i := len(t.entries) - 1; i >= 0 && len(entries) < n; i-- {
		entries = append(entries, t.entries[i])
	}
	return entries, nil
}

func (m *Memory) Expire(_ context.Context, topic string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.topic(topic, false); t != nil {
		t.deadline = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, topics ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range topics {
		delete(m.topics, name)
	}
	return nil
}
