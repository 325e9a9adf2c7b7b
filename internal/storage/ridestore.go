package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

// ErrNotFound is returned for lookups of rides that do not exist.
var ErrNotFound = errors.New("ride not found")

// CandidateFilter selects rides eligible for matching: departing in the
// future, seats left, not offered by the requester, optionally one vehicle
// class. VehicleType "" means any.
type CandidateFilter struct {
	DepartAfter     time.Time
	MinSeats        int
	ExcludeDriverID string
	VehicleType     string
}

// RideStore defines persistence operations for rides. The matching engine
// only calls FindCandidates; the lifecycle handlers use the rest.
type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error
	// FindCandidates returns matching rides in creation order.
	FindCandidates(ctx context.Context, f CandidateFilter) ([]models.Ride, error)
}

// NotificationStore persists per-user notifications. Used by the event
// consumer and the notifications endpoint.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
}

// MemoryStore is a mutex-guarded in-memory RideStore. It backs tests and
// local runs without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	order []string
	notes []models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) SaveRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrNotFound
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) FindCandidates(ctx context.Context, f CandidateFilter) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0, len(m.order))
	for _, id := range m.order {
		r := m.rides[id]
		if r.Status != models.RideScheduled {
			continue
		}
		if !r.DepartureTime.After(f.DepartAfter) {
			continue
		}
		if r.AvailableSeats < f.MinSeats {
			continue
		}
		if f.ExcludeDriverID != "" && r.DriverID == f.ExcludeDriverID {
			continue
		}
		if f.VehicleType != "" && r.VehicleType != f.VehicleType {
			continue
		}
		out = append(out, *r.Clone())
	}
	return out, nil
}

func (m *MemoryStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, *n)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for _, n := range m.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}
