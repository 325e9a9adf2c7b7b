package models

import (
	"errors"
	"fmt"
	"time"
)

// Booking and lifecycle rule violations. Handlers map these to 4xx responses.
var (
	ErrNoSeats        = errors.New("no available seats")
	ErrAlreadyBooked  = errors.New("ride already booked by this user")
	ErrOwnRide        = errors.New("drivers cannot book their own ride")
	ErrPastDeparture  = errors.New("ride has already departed")
	ErrNotScheduled   = errors.New("ride is not scheduled")
	ErrNotRider       = errors.New("user has no booking on this ride")
	ErrNotRideDriver  = errors.New("only the ride's driver may do this")
	ErrBadRiderStatus = errors.New("invalid rider status transition")
)

// Book adds a rider with the given fare and decrements the seat count.
// Seat count and rider list always change together.
func (r *Ride) Book(userID string, bookedFare int64, now time.Time) error {
	if r.Status != RideScheduled {
		return ErrNotScheduled
	}
	if !r.DepartureTime.After(now) {
		return ErrPastDeparture
	}
	if r.DriverID == userID {
		return ErrOwnRide
	}
	if i := r.RiderIndex(userID); i >= 0 && !r.Riders[i].Terminal() {
		return ErrAlreadyBooked
	}
	if r.AvailableSeats <= 0 {
		return ErrNoSeats
	}
	r.AvailableSeats--
	r.Riders = append(r.Riders, RiderEntry{
		UserID:        userID,
		Status:        RiderBooked,
		BookedFare:    bookedFare,
		PaymentStatus: PaymentPending,
	})
	r.UpdatedAt = now
	return nil
}

// CancelBooking releases the rider's seat before departure.
func (r *Ride) CancelBooking(userID string, now time.Time) error {
	if !r.DepartureTime.After(now) {
		return ErrPastDeparture
	}
	i := r.RiderIndex(userID)
	if i < 0 || r.Riders[i].Terminal() {
		return ErrNotRider
	}
	r.Riders[i].Status = RiderCancelled
	r.AvailableSeats++
	r.UpdatedAt = now
	return nil
}

// Cancel lets the driver withdraw a scheduled future ride.
func (r *Ride) Cancel(requesterID string, now time.Time) error {
	if r.DriverID != requesterID {
		return ErrNotRideDriver
	}
	if r.Status != RideScheduled {
		return ErrNotScheduled
	}
	if !r.DepartureTime.After(now) {
		return ErrPastDeparture
	}
	r.Status = RideCancelled
	r.UpdatedAt = now
	return nil
}

// SetRiderStatus records a pickup, dropoff or no-show for one rider. When the
// last rider reaches a terminal state the ride completes.
func (r *Ride) SetRiderStatus(userID, status string, now time.Time) error {
	i := r.RiderIndex(userID)
	if i < 0 {
		return ErrNotRider
	}
	e := &r.Riders[i]
	switch status {
	case RiderPickedUp:
		if e.Status != RiderBooked {
			return fmt.Errorf("%w: %s -> %s", ErrBadRiderStatus, e.Status, status)
		}
		t := now
		e.PickupTime = &t
	case RiderDroppedOff:
		if e.Status != RiderPickedUp {
			return fmt.Errorf("%w: %s -> %s", ErrBadRiderStatus, e.Status, status)
		}
		t := now
		e.DropoffTime = &t
	case RiderNoShow:
		if e.Status != RiderBooked {
			return fmt.Errorf("%w: %s -> %s", ErrBadRiderStatus, e.Status, status)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrBadRiderStatus, status)
	}
	e.Status = status

	// scheduled -> completed is one-way, driven entirely by rider terminality
	if r.Status == RideScheduled && r.AllRidersTerminal() {
		r.Status = RideCompleted
	}
	r.UpdatedAt = now
	return nil
}
