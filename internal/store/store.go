// Package store is the persistence contract behind call rooms, signals and
// notifications: room documents with compare-and-set status updates, and
// append-only logs whose reads double as the change feed.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/samber/lo"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrStatusConflict = errors.New("status changed concurrently")
)

// Cursor is a position in a log. Millis is the server-assigned insertion
// time; Seq orders entries appended within the same millisecond.
type Cursor struct {
	Millis int64
	Seq    uint64
}

// ParseCursor parses the "<millis>-<seq>" form produced by Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	ms, seq, ok := strings.Cut(s, "-")
	if !ok {
		seq = "0"
	}
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || millis < 0 {
		return Cursor{}, fmt.Errorf("invalid cursor %q", s)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor %q", s)
	}
	return Cursor{Millis: millis, Seq: n}, nil
}

func (c Cursor) String() string {
	return strconv.FormatInt(c.Millis, 10) + "-" + strconv.FormatUint(c.Seq, 10)
}

func (c Cursor) IsZero() bool {
	return c.Millis == 0 && c.Seq == 0
}

// Less reports whether c sorts before o.
func (c Cursor) Less(o Cursor) bool {
	if c.Millis != o.Millis {
		return c.Millis < o.Millis
	}
	return c.Seq < o.Seq
}

// Time is the insertion timestamp encoded in the cursor.
func (c Cursor) Time() time.Time {
	return time.UnixMilli(c.Millis).UTC()
}

// Entry is one record of a log.
type Entry struct {
	Cursor Cursor
	Body   []byte
}

// Log is an append-only collection of ordered entries grouped by topic.
type Log interface {
	// Append adds body to topic and returns the stored entry. A positive
	// maxLen lets the backend trim the oldest entries beyond roughly that size.
	Append(ctx context.Context, topic string, body []byte, maxLen int64) (Entry, error)
	// Read returns up to count entries strictly after the cursor, oldest
	// first. When none exist it waits up to block for new ones; block <= 0
	// returns immediately. An empty result with a nil error means the wait
	// elapsed.
	Read(ctx context.Context, topic string, after Cursor, count int, block time.Duration) ([]Entry, error)
	// Recent returns up to count entries, newest first.
	Recent(ctx context.Context, topic string, count int) ([]Entry, error)
	Expire(ctx context.Context, topic string, ttl time.Duration) error
	Delete(ctx context.Context, topics ...string) error
}

// RoomPatch holds the fields a status transition writes.
type RoomPatch struct {
	Status    models.CallStatus
	StartedAt *time.Time
	EndedAt   *time.Time
}

// RoomQuery filters ListRooms. Zero fields do not filter.
type RoomQuery struct {
	DoctorID      string
	PatientID     string
	Statuses      []models.CallStatus
	CreatedBefore time.Time
	Limit         int
}

// Matches reports whether room satisfies the query filters.
func (q RoomQuery) Matches(room models.CallRoom) bool {
	if q.DoctorID != "" && room.DoctorID != q.DoctorID {
		return false
	}
	if q.PatientID != "" && room.PatientID != q.PatientID {
		return false
	}
	if len(q.Statuses) > 0 && !lo.Contains(q.Statuses, room.Status) {
		return false
	}
	if !q.CreatedBefore.IsZero() && !room.CreatedAt.Before(q.CreatedBefore) {
		return false
	}
	return true
}

// Rooms is the call room collection.
type Rooms interface {
	InsertRoom(ctx context.Context, room models.CallRoom) error
	GetRoom(ctx context.Context, id string) (models.CallRoom, error)
	// UpdateRoomStatus applies patch only if the stored status still equals
	// expected, and returns the updated room.
	UpdateRoomStatus(ctx context.Context, id string, expected models.CallStatus, patch RoomPatch) (models.CallRoom, error)
	// ListRooms returns matching rooms, most recently created first.
	ListRooms(ctx context.Context, q RoomQuery) ([]models.CallRoom, error)
}

// Store bundles both collections.
type Store interface {
	Rooms
	Log
	Close() error
}
