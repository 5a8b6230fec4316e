// Package directory resolves participant ids to display names.
package directory

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("participant not found")

// Directory looks up display names of call participants.
type Directory interface {
	PatientName(ctx context.Context, id string) (string, error)
	DoctorName(ctx context.Context, id string) (string, error)
}

// Static is an in-process directory, used when no database is configured.
type Static struct {
	mu       sync.RWMutex
	patients map[string]string
	doctors  map[string]string
}

func NewStatic() *Static {
	return &Static{
		patients: make(map[string]string),
		doctors:  make(map[string]string),
	}
}

func (s *Static) AddPatient(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[id] = name
}

func (s *Static) AddDoctor(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[id] = name
}

func (s *Static) PatientName(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.patients[id]; ok {
		return name, nil
	}
	return "", ErrNotFound
}

func (s *Static) DoctorName(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.doctors[id]; ok {
		return name, nil
	}
	return "", ErrNotFound
}
