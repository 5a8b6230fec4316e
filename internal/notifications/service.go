// Package notifications delivers user-scoped application events over the
// same ordered log that carries call signals.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Topic is the log holding one user's notifications.
func Topic(userID string) string {
	return "notifications:" + userID
}

// Service publishes notifications and streams them to their user.
type Service struct {
	log    store.Log
	broker *feed.Broker
	ttl    time.Duration
	maxLen int64
	now    func() time.Time
}

// NewService keeps at most maxLen notifications per user, and drops a
// user's log once nothing was published to it for ttl.
func NewService(l store.Log, b *feed.Broker, ttl time.Duration, maxLen int64) *Service {
	return &Service{log: l, broker: b, ttl: ttl, maxLen: maxLen, now: time.Now}
}

// Publish validates a request from an API caller and delivers it.
func (s *Service) Publish(ctx context.Context, req models.NotifyRequest) (models.Notification, error) {
	if err := models.Validate(req); err != nil {
		return models.Notification{}, err
	}
	return s.Notify(ctx, req.UserID, models.Notification{
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	})
}

// Notify appends n to the user's log, filling in its id and timestamp.
func (s *Service) Notify(ctx context.Context, userID string, n models.Notification) (models.Notification, error) {
	if userID == "" {
		return models.Notification{}, apperr.New(apperr.ValidationError, "userId is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.UserID = userID
	n.Timestamp = s.now().UTC()

	body, err := json.Marshal(n)
	if err != nil {
		return models.Notification{}, apperr.Wrap(apperr.ValidationError, err, "notification data is not serializable")
	}

	topic := Topic(userID)
	if _, err := s.log.Append(ctx, topic, body, s.maxLen); err != nil {
		return models.Notification{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to store notification")
	}
	if s.ttl > 0 {
		if err := s.log.Expire(ctx, topic, s.ttl); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to set notification retention")
		}
	}

	log.Debug().Str("user_id", userID).Str("type", string(n.Type)).Str("id", n.ID).Msg("Notification published")
	return n, nil
}

// Recent returns the user's latest notifications, newest first.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	entries, err := s.log.Recent(ctx, Topic(userID), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to read notifications")
	}
	items := make([]models.Notification, 0, len(entries))
	for _, entry := range entries {
		n, err := decode(entry)
		if err != nil {
			log.Warn().Err(err).Str("cursor", entry.Cursor.String()).Msg("Skipping malformed notification")
			continue
		}
		items = append(items, n)
	}
	return items, nil
}

// Stream follows the user's notifications from start.
func (s *Service) Stream(ctx context.Context, userID string, start feed.Start) (*feed.Stream[models.Notification], error) {
	if userID == "" {
		return nil, apperr.New(apperr.ValidationError, "userId is required")
	}
	stream, err := feed.Open(ctx, s.broker, feed.Spec[models.Notification]{
		Name:   "notifications",
		Topic:  Topic(userID),
		Decode: decode,
		Match: func(n models.Notification) bool {
			return n.UserID == userID
		},
	}, start)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to open notification stream")
	}
	return stream, nil
}

func decode(entry store.Entry) (models.Notification, error) {
	var n models.Notification
	err := json.Unmarshal(entry.Body, &n)
	return n, err
}
