package models

import "time"

// CallStatus is the lifecycle state of a call room
type CallStatus string

const (
	StatusWaiting CallStatus = "waiting"
	StatusActive  CallStatus = "active"
	StatusEnded   CallStatus = "ended"
)

// Valid reports whether s is one of the three lifecycle states.
func (s CallStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether a room in status s may be moved to next.
// Staying in waiting or active is a no-op; ended is terminal.
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case StatusWaiting:
		return next.Valid()
	case StatusActive:
		return next == StatusActive || next == StatusEnded
	}
	return false
}

// CallRoom is one attempted or in-progress call between a patient and a doctor
type CallRoom struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patientId"`
	DoctorID  string     `json:"doctorId"`
	Type      string     `json:"type"`
	Status    CallStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

// HasParticipant reports whether userID is the patient or the doctor of the room.
func (r CallRoom) HasParticipant(userID string) bool {
	return userID != "" && (userID == r.PatientID || userID == r.DoctorID)
}

// Participants returns the patient and the doctor ids.
func (r CallRoom) Participants() []string {
	return []string{r.PatientID, r.DoctorID}
}

// Duration is the time between the call becoming active and ending.
func (r CallRoom) Duration() (time.Duration, bool) {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0, false
	}
	return r.EndedAt.Sub(*r.StartedAt), true
}

// ActiveCall is a waiting or active room enriched with the counterpart's display name
type ActiveCall struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"roomId"`
	PatientID   string     `json:"patientId"`
	PatientName string     `json:"patientName,omitempty"`
	DoctorID    string     `json:"doctorId"`
	DoctorName  string     `json:"doctorName,omitempty"`
	Type        string     `json:"type"`
	Status      CallStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// CreateRoomRequest is the request body for creating a call room.
// Room ids are embedded in storage keys, so they may not contain ':'.
type CreateRoomRequest struct {
	RoomID    string `json:"roomId" validate:"required,max=128,excludes=:"`
	PatientID string `json:"patientId" validate:"required"`
	DoctorID  string `json:"doctorId" validate:"required,nefield=PatientID"`
	Type      string `json:"type" validate:"required,oneof=audio video"`
}

// UpdateStatusRequest drives the call room state machine
type UpdateStatusRequest struct {
	RoomID string     `json:"roomId" validate:"required"`
	Status CallStatus `json:"status" validate:"required"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	Success bool     `json:"success"`
	RoomID  string   `json:"roomId"`
	Room    CallRoom `json:"room"`
}

// MediaTokenResponse carries a join token for the media SDK
type MediaTokenResponse struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}
