package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/calls"
	"github.com/mossy-p/telecare-signaling/internal/middleware"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/notifications"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler serves the call, signaling and notification API
type Handler struct {
	calls         *calls.Manager
	relay         *calls.Relay
	notifications *notifications.Service
	jwtSecret     string
	production    bool
	keepAlive     time.Duration
}

type Options struct {
	JWTSecret  string
	Production bool
	KeepAlive  time.Duration
}

func New(m *calls.Manager, r *calls.Relay, n *notifications.Service, opts Options) *Handler {
	return &Handler{
		calls:         m,
		relay:         r,
		notifications: n,
		jwtSecret:     opts.JWTSecret,
		production:    opts.Production,
		keepAlive:     opts.KeepAlive,
	}
}

// CreateCall creates a new call room in the waiting state
func (h *Handler) CreateCall(c *gin.Context) {
	var req models.CreateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	id := caller(c)
	if id.Role != middleware.RoleAdmin && id.UserID != req.DoctorID && id.UserID != req.PatientID {
		respondError(c, apperr.New(apperr.Forbidden, "Only participants can create a call"))
		return
	}

	room, err := h.calls.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		Success: true,
		RoomID:  room.ID,
		Room:    room,
	})
}

// GetCall returns a room to its participants
func (h *Handler) GetCall(c *gin.Context) {
	room, ok := h.visibleRoom(c, c.Param("roomId"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, room)
}

// UpdateCallStatus moves a room through its lifecycle
func (h *Handler) UpdateCallStatus(c *gin.Context) {
	var req models.UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := models.Validate(req); err != nil {
		respondError(c, err)
		return
	}
	if _, ok := h.visibleRoom(c, req.RoomID); !ok {
		return
	}

	room, err := h.calls.SetStatus(c.Request.Context(), req.RoomID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": room})
}

// JoinCall lets the patient pick up a ringing call
func (h *Handler) JoinCall(c *gin.Context) {
	room, err := h.calls.Join(c.Request.Context(), c.Param("roomId"), caller(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": room})
}

// MediaToken issues a join token for the media server
func (h *Handler) MediaToken(c *gin.Context) {
	resp, err := h.calls.MediaToken(c.Request.Context(), c.Param("roomId"), caller(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DoctorCalls lists a doctor's waiting and active calls
func (h *Handler) DoctorCalls(c *gin.Context) {
	doctorID := c.Param("doctorId")
	if !requireSelf(c, doctorID) {
		return
	}

	list, err := h.calls.ListActiveForDoctor(c.Request.Context(), doctorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

// PatientCalls lists the calls ringing for or held by the caller
func (h *Handler) PatientCalls(c *gin.Context) {
	list, err := h.calls.ListActiveForPatient(c.Request.Context(), caller(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h *Handler) visibleRoom(c *gin.Context, roomID string) (models.CallRoom, bool) {
	room, err := h.calls.Get(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return models.CallRoom{}, false
	}
	if !canSeeRoom(caller(c), room) {
		respondError(c, apperr.New(apperr.Forbidden, "Not a participant of this call"))
		return models.CallRoom{}, false
	}
	return room, true
}
