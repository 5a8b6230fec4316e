package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix    = "callroom:"
	roomsAllKey      = "callrooms:all"
	roomsDoctorKey   = "callrooms:doctor:"
	roomsPatientKey  = "callrooms:patient:"
	logBodyField     = "body"
	roomScanPageSize = 200
)

// insertRoomScript creates the room hash only if the key is absent.
var insertRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// casStatusScript writes the patch fields only if the stored status equals
// ARGV[1]. Returns -1 for a missing room and 0 for a status mismatch.
var casStatusScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 1
`)

// Redis stores rooms as hashes indexed by sorted sets and logs as streams,
// so stream ids are the cursors and XREAD BLOCK is the change feed.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func roomKey(id string) string {
	return roomKeyPrefix + id
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func roomFields(room models.CallRoom) []any {
	return []any{
		"id", room.ID,
		"patientId", room.PatientID,
		"doctorId", room.DoctorID,
		"type", room.Type,
		"status", string(room.Status),
		"createdAt", encodeTime(&room.CreatedAt),
		"startedAt", encodeTime(room.StartedAt),
		"endedAt", encodeTime(room.EndedAt),
	}
}

func roomFromHash(values map[string]string) (models.CallRoom, error) {
	room := models.CallRoom{
		ID:        values["id"],
		PatientID: values["patientId"],
		DoctorID:  values["doctorId"],
		Type:      values["type"],
		Status:    models.CallStatus(values["status"]),
	}

	createdAt, err := decodeTime(values["createdAt"])
	if err != nil || createdAt == nil {
		return room, fmt.Errorf("room %s: invalid createdAt %q", room.ID, values["createdAt"])
	}
	room.CreatedAt = *createdAt
	if room.StartedAt, err = decodeTime(values["startedAt"]); err != nil {
		return room, fmt.Errorf("room %s: invalid startedAt: %w", room.ID, err)
	}
	if room.EndedAt, err = decodeTime(values["endedAt"]); err != nil {
		return room, fmt.Errorf("room %s: invalid endedAt: %w", room.ID, err)
	}
	return room, nil
}

func (r *Redis) InsertRoom(ctx context.Context, room models.CallRoom) error {
	created, err := insertRoomScript.Run(ctx, r.client, []string{roomKey(room.ID)}, roomFields(room)...).Int()
	if err != nil {
		return fmt.Errorf("insert room %s: %w", room.ID, err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}

	score := float64(room.CreatedAt.UnixMilli())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		member := redis.Z{Score: score, Member: room.ID}
		pipe.ZAdd(ctx, roomsAllKey, member)
		pipe.ZAdd(ctx, roomsDoctorKey+room.DoctorID, member)
		pipe.ZAdd(ctx, roomsPatientKey+room.PatientID, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index room %s: %w", room.ID, err)
	}
	return nil
}

func (r *Redis) GetRoom(ctx context.Context, id string) (models.CallRoom, error) {
	values, err := r.client.HGetAll(ctx, roomKey(id)).Result()
	if err != nil {
		return models.CallRoom{}, fmt.Errorf("get room %s: %w", id, err)
	}
	if len(values) == 0 {
		return models.CallRoom{}, ErrNotFound
	}
	return roomFromHash(values)
}

func (r *Redis) UpdateRoomStatus(ctx context.Context, id string, expected models.CallStatus, patch RoomPatch) (models.CallRoom, error) {
	args := []any{string(expected), "status", string(patch.Status)}
	if patch.StartedAt != nil {
		args = append(args, "startedAt", encodeTime(patch.StartedAt))
	}
	if patch.EndedAt != nil {
		args = append(args, "endedAt", encodeTime(patch.EndedAt))
	}

	result, err := casStatusScript.Run(ctx, r.client, []string{roomKey(id)}, args...).Int()
	if err != nil {
		return models.CallRoom{}, fmt.Errorf("update room %s: %w", id, err)
	}
	switch result {
	case -1:
		return models.CallRoom{}, ErrNotFound
	case 0:
		return models.CallRoom{}, ErrStatusConflict
	}
	return r.GetRoom(ctx, id)
}

func (r *Redis) ListRooms(ctx context.Context, q RoomQuery) ([]models.CallRoom, error) {
	index := roomsAllKey
	switch {
	case q.DoctorID != "":
		index = roomsDoctorKey + q.DoctorID
	case q.PatientID != "":
		index = roomsPatientKey + q.PatientID
	}

	upper := "+inf"
	if !q.CreatedBefore.IsZero() {
		upper = "(" + strconv.FormatInt(q.CreatedBefore.UnixMilli(), 10)
	}

	var rooms []models.CallRoom
	for offset := int64(0); ; offset += roomScanPageSize {
		ids, err := r.client.ZRevRangeByScore(ctx, index, &redis.ZRangeBy{
			Max:    upper,
			Min:    "-inf",
			Offset: offset,
			Count:  roomScanPageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}

		cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.HGetAll(ctx, roomKey(id))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load rooms: %w", err)
		}

		for _, cmd := range cmds {
			values, err := cmd.(*redis.MapStringStringCmd).Result()
			if err != nil || len(values) == 0 {
				continue
			}
			room, err := roomFromHash(values)
			if err != nil {
				return nil, err
			}
			if q.Matches(room) {
				rooms = append(rooms, room)
				if q.Limit > 0 && len(rooms) == q.Limit {
					return rooms, nil
				}
			}
		}

		if len(ids) < roomScanPageSize {
			return rooms, nil
		}
	}
}

func entriesFromMessages(messages []redis.XMessage) ([]Entry, error) {
	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		cursor, err := ParseCursor(msg.ID)
		if err != nil {
			return nil, err
		}
		body, _ := msg.Values[logBodyField].(string)
		entries = append(entries, Entry{Cursor: cursor, Body: []byte(body)})
	}
	return entries, nil
}

func (r *Redis) Append(ctx context.Context, topic string, body []byte, maxLen int64) (Entry, error) {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{logBodyField: string(body)},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("append to %s: %w", topic, err)
	}
	cursor, err := ParseCursor(id)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Cursor: cursor, Body: body}, nil
}

func (r *Redis) Read(ctx context.Context, topic string, after Cursor, count int, block time.Duration) ([]Entry, error) {
	args := &redis.XReadArgs{
		Streams: []string{topic, after.String()},
		Count:   int64(count),
		Block:   -1,
	}
	if block > 0 {
		args.Block = block
	}

	streams, err := r.client.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read %s: %w", topic, err)
	}

	for _, stream := range streams {
		if stream.Stream == topic {
			return entriesFromMessages(stream.Messages)
		}
	}
	return nil, nil
}

func (r *Redis) Recent(ctx context.Context, topic string, count int) ([]Entry, error) {
	var (
		messages []redis.XMessage
		err      error
	)
	if count > 0 {
		messages, err = r.client.XRevRangeN(ctx, topic, "+", "-", int64(count)).Result()
	} else {
		messages, err = r.client.XRevRange(ctx, topic, "+", "-").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("recent %s: %w", topic, err)
	}
	return entriesFromMessages(messages)
}

func (r *Redis) Expire(ctx context.Context, topic string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, topic, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, topics...).Err(); err != nil {
		return fmt.Errorf("delete %v: %w", topics, err)
	}
	return nil
}
