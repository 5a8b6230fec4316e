// Package calls owns the call room lifecycle and the signal relay between
// the two participants of a room.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/directory"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// A room changes status at most twice, so three attempts always settle.
const maxStatusAttempts = 3

// Store is the part of the storage layer the calls package needs.
type Store interface {
	store.Rooms
	store.Log
}

// Notifier delivers a user-scoped notification.
type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) (models.Notification, error)
}

type Option func(*Manager)

func WithMedia(m Media) Option {
	return func(mgr *Manager) { mgr.media = m }
}

func WithNotifier(n Notifier) Option {
	return func(mgr *Manager) { mgr.notifier = n }
}

// WithStaleAfter sets the age after which a waiting room no longer
// rings for the patient and becomes eligible for the sweeper.
func WithStaleAfter(d time.Duration) Option {
	return func(mgr *Manager) { mgr.staleAfter = d }
}

// WithSignalTTL sets how long signals stay readable after a room ends.
func WithSignalTTL(d time.Duration) Option {
	return func(mgr *Manager) { mgr.signalTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// Manager drives the call room state machine.
type Manager struct {
	store      Store
	dir        directory.Directory
	media      Media
	notifier   Notifier
	staleAfter time.Duration
	signalTTL  time.Duration
	now        func() time.Time
}

func NewManager(s Store, dir directory.Directory, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		dir:        dir,
		media:      noopMedia{},
		staleAfter: 5 * time.Minute,
		signalTTL:  time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new waiting room and rings the patient.
func (m *Manager) Create(ctx context.Context, req models.CreateRoomRequest) (models.CallRoom, error) {
	if err := models.Validate(req); err != nil {
		return models.CallRoom{}, err
	}

	room := models.CallRoom{
		ID:        req.RoomID,
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Type:      req.Type,
		Status:    models.StatusWaiting,
		CreatedAt: m.timestamp(),
	}
	if err := m.store.InsertRoom(ctx, room); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.CallRoom{}, apperr.New(apperr.AlreadyExists, "room already exists")
		}
		return models.CallRoom{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to create room")
	}

	log.Info().
		Str("room_id", room.ID).
		Str("doctor_id", room.DoctorID).
		Str("patient_id", room.PatientID).
		Str("type", room.Type).
		Msg("Call room created")

	if err := m.media.OpenRoom(ctx, room); err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to open media room")
	}
	m.notifyIncoming(ctx, room)
	return room, nil
}

// Get returns the room with the given id.
func (m *Manager) Get(ctx context.Context, roomID string) (models.CallRoom, error) {
	if roomID == "" {
		return models.CallRoom{}, apperr.New(apperr.ValidationError, "roomId is required")
	}
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.CallRoom{}, apperr.New(apperr.NotFound, "room not found")
		}
		return models.CallRoom{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to load room")
	}
	return room, nil
}

// SetStatus moves a room through waiting -> active -> ended. Repeating the
// current waiting or active status is a no-op; nothing leaves ended.
// Concurrent callers are serialized by a compare-and-set on the stored status.
func (m *Manager) SetStatus(ctx context.Context, roomID string, status models.CallStatus) (models.CallRoom, error) {
	if !status.Valid() {
		return models.CallRoom{}, apperr.New(apperr.InvalidTransition, fmt.Sprintf("unknown status %q", status))
	}

	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		room, err := m.Get(ctx, roomID)
		if err != nil {
			return models.CallRoom{}, err
		}
		if !room.Status.CanTransition(status) {
			return models.CallRoom{}, apperr.New(apperr.InvalidTransition,
				fmt.Sprintf("cannot move room from %s to %s", room.Status, status))
		}
		if room.Status == status {
			return room, nil
		}

		now := m.timestamp()
		patch := store.RoomPatch{Status: status}
		if status == models.StatusActive && room.StartedAt == nil {
			patch.StartedAt = &now
		}
		if status == models.StatusEnded {
			patch.EndedAt = &now
		}

		updated, err := m.store.UpdateRoomStatus(ctx, roomID, room.Status, patch)
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			continue
		case errors.Is(err, store.ErrNotFound):
			return models.CallRoom{}, apperr.New(apperr.NotFound, "room not found")
		case err != nil:
			return models.CallRoom{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to update room")
		}

		log.Info().
			Str("room_id", roomID).
			Str("from", string(room.Status)).
			Str("to", string(status)).
			Msg("Call room status changed")

		if status == models.StatusEnded {
			m.finish(ctx, updated)
		}
		return updated, nil
	}
	return models.CallRoom{}, apperr.New(apperr.UpstreamFailure, "room status kept changing, try again")
}

// Join marks the room active on behalf of its patient.
func (m *Manager) Join(ctx context.Context, roomID, patientID string) (models.CallRoom, error) {
	room, err := m.Get(ctx, roomID)
	if err != nil {
		return models.CallRoom{}, err
	}
	if room.PatientID != patientID {
		return models.CallRoom{}, apperr.New(apperr.Forbidden, "only the patient of this call can join it")
	}
	return m.SetStatus(ctx, roomID, models.StatusActive)
}

// MediaToken issues a join token for the media backend.
func (m *Manager) MediaToken(ctx context.Context, roomID, userID string) (models.MediaTokenResponse, error) {
	room, err := m.Get(ctx, roomID)
	if err != nil {
		return models.MediaTokenResponse{}, err
	}
	if !room.HasParticipant(userID) {
		return models.MediaTokenResponse{}, apperr.New(apperr.Forbidden, "not a participant of this call")
	}
	if room.Status == models.StatusEnded {
		return models.MediaTokenResponse{}, apperr.New(apperr.InvalidTransition, "call has ended")
	}

	token, err := m.media.JoinToken(room, userID)
	if err != nil {
		if errors.Is(err, ErrMediaDisabled) {
			return models.MediaTokenResponse{}, apperr.Wrap(apperr.UpstreamFailure, err, "media backend is not configured")
		}
		return models.MediaTokenResponse{}, apperr.Wrap(apperr.UpstreamFailure, err, "failed to issue media token")
	}
	return models.MediaTokenResponse{Token: token, Endpoint: m.media.Endpoint()}, nil
}

// ListActiveForDoctor returns the doctor's waiting and active rooms, newest
// first, with patient names filled in.
func (m *Manager) ListActiveForDoctor(ctx context.Context, doctorID string) ([]models.ActiveCall, error) {
	rooms, err := m.store.ListRooms(ctx, store.RoomQuery{
		DoctorID: doctorID,
		Statuses: []models.CallStatus{models.StatusWaiting, models.StatusActive},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to list calls")
	}

	calls := make([]models.ActiveCall, 0, len(rooms))
	for _, room := range rooms {
		call := activeCall(room)
		call.PatientName = m.lookup(ctx, m.dir.PatientName, room.PatientID, "Patient")
		calls = append(calls, call)
	}
	return calls, nil
}

// ListActiveForPatient returns the calls ringing for or held by a patient.
// Waiting rooms older than the stale threshold were abandoned by the doctor
// and are left out.
func (m *Manager) ListActiveForPatient(ctx context.Context, patientID string) ([]models.ActiveCall, error) {
	rooms, err := m.store.ListRooms(ctx, store.RoomQuery{
		PatientID: patientID,
		Statuses:  []models.CallStatus{models.StatusWaiting, models.StatusActive},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "failed to list calls")
	}

	cutoff := m.now().Add(-m.staleAfter)
	calls := make([]models.ActiveCall, 0, len(rooms))
	for _, room := range rooms {
		if room.Status == models.StatusWaiting && room.CreatedAt.Before(cutoff) {
			continue
		}
		call := activeCall(room)
		call.DoctorName = m.lookup(ctx, m.dir.DoctorName, room.DoctorID, "Doctor")
		calls = append(calls, call)
	}
	return calls, nil
}

// EndStale ends waiting rooms nobody joined within the stale threshold and
// returns how many it ended.
func (m *Manager) EndStale(ctx context.Context) (int, error) {
	rooms, err := m.store.ListRooms(ctx, store.RoomQuery{
		Statuses:      []models.CallStatus{models.StatusWaiting},
		CreatedBefore: m.now().Add(-m.staleAfter),
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.UpstreamFailure, err, "failed to list stale calls")
	}

	ended := 0
	for _, room := range rooms {
		now := m.timestamp()
		updated, err := m.store.UpdateRoomStatus(ctx, room.ID, models.StatusWaiting, store.RoomPatch{
			Status:  models.StatusEnded,
			EndedAt: &now,
		})
		switch {
		// Joined or ended since the listing; only still-waiting rooms are stale.
		case errors.Is(err, store.ErrStatusConflict), errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return ended, apperr.Wrap(apperr.UpstreamFailure, err, "failed to end stale call")
		}

		log.Info().Str("room_id", room.ID).Msg("Stale call room ended")
		m.finish(ctx, updated)
		ended++
	}
	return ended, nil
}

// finish runs the side effects of a room ending. Failures are logged; the
// transition itself already happened.
func (m *Manager) finish(ctx context.Context, room models.CallRoom) {
	if m.signalTTL > 0 {
		for _, userID := range room.Participants() {
			if err := m.store.Expire(ctx, SignalTopic(room.ID, userID), m.signalTTL); err != nil {
				log.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to set signal retention")
			}
		}
	}

	if err := m.media.CloseRoom(ctx, room.ID); err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to close media room")
	}

	if m.notifier == nil {
		return
	}
	data := map[string]any{"type": "call_ended", "roomId": room.ID}
	if d, ok := room.Duration(); ok {
		data["durationSeconds"] = int64(d.Seconds())
	}
	for _, userID := range room.Participants() {
		_, err := m.notifier.Notify(ctx, userID, models.Notification{
			Type:    models.NotificationMessage,
			Title:   "Call ended",
			Message: "The call has ended.",
			Data:    lo.Assign(data),
		})
		if err != nil {
			log.Warn().Err(err).Str("room_id", room.ID).Str("user_id", userID).Msg("Failed to send call ended notification")
		}
	}
}

func (m *Manager) notifyIncoming(ctx context.Context, room models.CallRoom) {
	if m.notifier == nil {
		return
	}
	doctorName := m.lookup(ctx, m.dir.DoctorName, room.DoctorID, "Your doctor")
	kind := "video"
	if room.Type == "audio" {
		kind = "audio"
	}

	_, err := m.notifier.Notify(ctx, room.PatientID, models.Notification{
		Type:    models.NotificationAlert,
		Title:   "Incoming call",
		Message: fmt.Sprintf("%s is starting a %s call with you", doctorName, kind),
		Data: map[string]any{
			"type":       "incoming_call",
			"roomId":     room.ID,
			"doctorId":   room.DoctorID,
			"doctorName": doctorName,
			"callType":   room.Type,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to notify patient of incoming call")
	}
}

func (m *Manager) lookup(ctx context.Context, fn func(context.Context, string) (string, error), id, fallback string) string {
	name, err := fn(ctx, id)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			log.Warn().Err(err).Str("id", id).Msg("Failed to resolve participant name")
		}
		return fallback
	}
	return name
}

// timestamp is the current time at the precision every store keeps.
func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func activeCall(room models.CallRoom) models.ActiveCall {
	return models.ActiveCall{
		ID:        room.ID,
		RoomID:    room.ID,
		PatientID: room.PatientID,
		DoctorID:  room.DoctorID,
		Type:      room.Type,
		Status:    room.Status,
		CreatedAt: room.CreatedAt,
	}
}
