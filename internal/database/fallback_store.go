package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
)

// DefaultSnapshotCapacity is how many booking snapshots are kept when no capacity is configured
const DefaultSnapshotCapacity = 100

// FallbackStore keeps the latest snapshot of each recent booking so it can be shown when
// the backend is unreachable. Beyond capacity the least recently used snapshot is evicted.
type FallbackStore struct {
	storage  SnapshotStorage
	capacity int
	logger   *logrus.Logger
}

// NewFallbackStore creates a fallback store over the given storage
func NewFallbackStore(storage SnapshotStorage, capacity int, logger *logrus.Logger) *FallbackStore {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &FallbackStore{
		storage:  storage,
		capacity: capacity,
		logger:   logger,
	}
}

// Save overwrites the snapshot of booking
func (s *FallbackStore) Save(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking cannot be nil")
	}
	if booking.Key() == "" {
		return fmt.Errorf("booking snapshot needs a booking id")
	}

	payload, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("failed to marshal booking snapshot: %w", err)
	}

	if err := s.storage.Store(ctx, SnapshotKey(booking.Key()), payload); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.Key(),
		"status":     booking.Status,
	}).Debug("Booking snapshot saved")

	return s.evict(ctx)
}

// evict drops the least recently used snapshots beyond capacity
func (s *FallbackStore) evict(ctx context.Context) error {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) <= s.capacity {
		return nil
	}

	for _, key := range keys[s.capacity:] {
		if err := s.storage.Delete(ctx, key); err != nil {
			return err
		}
		s.logger.WithField("storage_key", key).Debug("Booking snapshot evicted")
	}
	return nil
}

// load decodes the snapshot under key, or returns nil when there is none
func (s *FallbackStore) load(ctx context.Context, key string) (*models.Booking, error) {
	payload, err := s.storage.Load(ctx, key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var booking models.Booking
	if err := json.Unmarshal(payload, &booking); err != nil {
		return nil, fmt.Errorf("failed to decode booking snapshot %s: %w", key, err)
	}
	return &booking, nil
}

// Find returns the snapshot whose booking id or internal id is id, else nil
func (s *FallbackStore) Find(ctx context.Context, id string) (*models.Booking, error) {
	if id == "" {
		return nil, nil
	}

	direct := SnapshotKey(id)
	booking, err := s.load(ctx, direct)
	if err != nil {
		return nil, err
	}
	if booking.Matches(id) {
		s.touch(ctx, direct)
		return booking, nil
	}

	// id may be the internal id of a booking stored under its public id
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key == direct {
			continue
		}
		candidate, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if candidate.Matches(id) {
			s.touch(ctx, key)
			return candidate, nil
		}
	}
	return nil, nil
}

func (s *FallbackStore) touch(ctx context.Context, key string) {
	if err := s.storage.Touch(ctx, key); err != nil {
		s.logger.WithError(err).WithField("storage_key", key).Warn("Failed to mark booking snapshot as used")
	}
}

// List returns every stored snapshot, most recently used first
func (s *FallbackStore) List(ctx context.Context) ([]*models.Booking, error) {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	bookings := make([]*models.Booking, 0, len(keys))
	for _, key := range keys {
		booking, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		// evicted between listing and loading
		if booking == nil {
			continue
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

// Remove drops the snapshot of the booking identified by id, reporting whether one existed
func (s *FallbackStore) Remove(ctx context.Context, id string) (bool, error) {
	booking, err := s.Find(ctx, id)
	if err != nil || booking == nil {
		return false, err
	}
	if err := s.storage.Delete(ctx, SnapshotKey(booking.Key())); err != nil {
		return false, err
	}
	return true, nil
}

// Clear drops every snapshot and returns how many were removed
func (s *FallbackStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
