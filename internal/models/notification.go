package models

import "time"

type NotificationType string

const (
	NotificationExamReady    NotificationType = "exam_ready"
	NotificationConsultation NotificationType = "consultation_scheduled"
	NotificationMessage      NotificationType = "message"
	NotificationAlert        NotificationType = "alert"
)

// Notification is a user-scoped application event
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Data      map[string]any   `json:"data,omitempty"`
}

// NotifyRequest publishes a notification to one user
type NotifyRequest struct {
	UserID  string           `json:"userId" validate:"required"`
	Type    NotificationType `json:"type" validate:"required,oneof=exam_ready consultation_scheduled message alert"`
	Title   string           `json:"title" validate:"required,max=200"`
	Message string           `json:"message" validate:"max=2000"`
	Data    map[string]any   `json:"data"`
}
