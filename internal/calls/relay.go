package calls

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// SignalTopic is the log holding the signals addressed to one participant of a room.
// It lives outside the callroom: keyspace used for room documents.
func SignalTopic(roomID, to string) string {
	return "callsignals:" + roomID + ":" + to
}

// Relay stores handshake messages and streams them to their recipient.
type Relay struct {
	manager *Manager
	store   Store
	broker  *feed.Broker
}

func NewRelay(m *Manager, b *feed.Broker) *Relay {
	return &Relay{manager: m, store: m.store, broker: b}
}

// Send stores a signal for its recipient. Both ends must be participants of
// a room that has not ended.
func (r *Relay) Send(ctx context.Context, req models.SendSignalRequest) (models.Signal, error) {
	if err := models.Validate(req); err != nil {
		return models.Signal{}, err
	}
	signalType := jsoniter.Get(req.Signal, "type").ToString()
	if signalType == "" {
		return models.Signal{}, apperr.New(apperr.ValidationError, "signal.type is required")
	}

	room, err := r.manager.Get(ctx, req.RoomID)
	if err != nil {
		return models.Signal{}, err
	}
	if !room.HasParticipant(req.From) || !room.HasParticipant(req.To) {
		return models.Signal{}, apperr.New(apperr.ValidationError, "sender and recipient must be participants of the room")
	}
	if room.Status == models.StatusEnded {
		return models.Signal{}, apperr.New(apperr.InvalidTransition, "call has ended")
	}

	sig := models.Signal{
		RoomID: req.RoomID,
		From:   req.From,
		To:     req.To,
		Type:   models.SignalType(signalType),
		Data:   req.Signal,
	}
	body, err := json.Marshal(sig)
	if err != nil {
		return models.Signal{}, apperr.Wrap(apperr.ValidationError, err, "signal is not valid JSON")
	}

	entry, err := r.store.Append(ctx, SignalTopic(req.RoomID, req.To), body, 0)
	if err != nil {
		return models.Signal{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to store signal")
	}
	sig.Timestamp = entry.Cursor.Time()
	sig.Cursor = entry.Cursor.String()

	log.Debug().
		Str("room_id", sig.RoomID).
		Str("from", sig.From).
		Str("to", sig.To).
		Str("type", signalType).
		Msg("Signal stored")
	return sig, nil
}

// Recent returns the latest signals addressed to a participant, newest first.
func (r *Relay) Recent(ctx context.Context, roomID, to string, limit int) ([]models.Signal, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	if _, err := r.manager.Get(ctx, roomID); err != nil {
		return nil, err
	}

	entries, err := r.store.Recent(ctx, SignalTopic(roomID, to), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to read signals")
	}

	signals := make([]models.Signal, 0, len(entries))
	for _, entry := range entries {
		sig, err := decodeSignal(entry)
		if err != nil {
			log.Warn().Err(err).Str("cursor", entry.Cursor.String()).Msg("Skipping malformed signal")
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Stream follows the signals addressed to userID in the room, oldest first.
func (r *Relay) Stream(ctx context.Context, roomID, userID string, start feed.Start) (*feed.Stream[models.Signal], error) {
	room, err := r.manager.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this call")
	}
	if room.Status == models.StatusEnded {
		return nil, apperr.New(apperr.InvalidTransition, "call has ended")
	}

	stream, err := feed.Open(ctx, r.broker, feed.Spec[models.Signal]{
		Name:   "signals",
		Topic:  SignalTopic(roomID, userID),
		Decode: decodeSignal,
		Match: func(sig models.Signal) bool {
			return sig.To == userID
		},
	}, start)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to open signal stream")
	}
	return stream, nil
}

func decodeSignal(entry store.Entry) (models.Signal, error) {
	var sig models.Signal
	if err := json.Unmarshal(entry.Body, &sig); err != nil {
		return models.Signal{}, err
	}
	sig.Timestamp = entry.Cursor.Time()
	sig.Cursor = entry.Cursor.String()
	return sig, nil
}
