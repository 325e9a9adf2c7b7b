package models

import (
	"slices"
	"time"
)

// GeoPoint is a WGS-84 coordinate plus the human-readable address it was
// geocoded from. Value type, never mutated.
type GeoPoint struct {
	Lat     float64 `json:"lat" bson:"lat"`
	Lon     float64 `json:"lon" bson:"lon"`
	Address string  `json:"address,omitempty" bson:"address,omitempty"`
}

// Vehicle classes known to the fare table.
const (
	VehicleCar        = "car"
	VehicleTwoWheeler = "two_wheeler"
)

// Ride statuses.
const (
	RideScheduled = "scheduled"
	RideCompleted = "completed"
	RideCancelled = "cancelled"
)

// Rider booking statuses. dropped_off, cancelled and no_show are terminal.
const (
	RiderBooked     = "booked"
	RiderPickedUp   = "picked_up"
	RiderDroppedOff = "dropped_off"
	RiderCancelled  = "cancelled"
	RiderNoShow     = "no_show"
)

// Payment statuses on a rider entry. Tracked only as a field; payment flows
// live outside this service.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// RoutePath is a GeoJSON LineString: ordered [lon, lat] pairs produced by the
// routing oracle when the ride is created. A valid route has at least 2 points.
type RoutePath struct {
	Type        string      `json:"type" bson:"type"`
	Coordinates [][]float64 `json:"coordinates" bson:"coordinates"`
}

// RiderEntry is one rider's booking on a ride.
type RiderEntry struct {
	UserID        string     `json:"user_id" bson:"user_id"`
	Status        string     `json:"status" bson:"status"`
	BookedFare    int64      `json:"booked_fare" bson:"booked_fare"`
	PaymentStatus string     `json:"payment_status" bson:"payment_status"`
	PickupTime    *time.Time `json:"pickup_time,omitempty" bson:"pickup_time,omitempty"`
	DropoffTime   *time.Time `json:"dropoff_time,omitempty" bson:"dropoff_time,omitempty"`
}

// Terminal reports whether the entry can no longer change state.
func (e RiderEntry) Terminal() bool {
	switch e.Status {
	case RiderDroppedOff, RiderCancelled, RiderNoShow:
		return true
	}
	return false
}

// Ride is a driver's offered trip. The matching engine only reads rides; the
// booking and lifecycle operations mutate them.
type Ride struct {
	ID             string       `json:"id" bson:"_id,omitempty"`
	DriverID       string       `json:"driver_id" bson:"driver_id"`
	DriverName     string       `json:"driver_name,omitempty" bson:"driver_name,omitempty"`
	Origin         GeoPoint     `json:"origin" bson:"origin"`
	Destination    GeoPoint     `json:"destination" bson:"destination"`
	DepartureTime  time.Time    `json:"departure_time" bson:"departure_time"`
	TotalSeats     int          `json:"total_seats" bson:"total_seats"`
	AvailableSeats int          `json:"available_seats" bson:"available_seats"`
	Fare           int64        `json:"fare" bson:"fare"`
	Distance       float64      `json:"distance" bson:"distance"` // km, origin->destination, set at creation
	MaxDetourKm    float64      `json:"max_detour_km" bson:"max_detour_km"`
	VehicleType    string       `json:"vehicle_type" bson:"vehicle_type"`
	VehicleNumber  string       `json:"vehicle_number,omitempty" bson:"vehicle_number,omitempty"`
	RoutePath      RoutePath    `json:"route_path" bson:"route_path"`
	Riders         []RiderEntry `json:"riders" bson:"riders"`
	Status         string       `json:"status" bson:"status"`
	CreatedAt      time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy of the ride. Mutating the copy's rider entries
// or route coordinates must not reach the original.
func (r *Ride) Clone() *Ride {
	cp := *r
	if r.RoutePath.Coordinates != nil {
		cp.RoutePath.Coordinates = make([][]float64, len(r.RoutePath.Coordinates))
		for i, pt := range r.RoutePath.Coordinates {
			cp.RoutePath.Coordinates[i] = slices.Clone(pt)
		}
	}
	cp.Riders = slices.Clone(r.Riders)
	for i := range cp.Riders {
		cp.Riders[i].PickupTime = copyTime(cp.Riders[i].PickupTime)
		cp.Riders[i].DropoffTime = copyTime(cp.Riders[i].DropoffTime)
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// RiderIndex returns the position of userID in Riders, or -1.
func (r *Ride) RiderIndex(userID string) int {
	for i, e := range r.Riders {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

// AllRidersTerminal reports whether every booking reached a terminal state.
// False for a ride with no riders at all.
func (r *Ride) AllRidersTerminal() bool {
	if len(r.Riders) == 0 {
		return false
	}
	for _, e := range r.Riders {
		if !e.Terminal() {
			return false
		}
	}
	return true
}

// MatchQuery is one rider search. VehicleType "" or "All" means no filter.
type MatchQuery struct {
	RiderStart  GeoPoint `json:"start"`
	RiderEnd    GeoPoint `json:"end"`
	VehicleType string   `json:"vehicle_type,omitempty"`
	RequesterID string   `json:"-"`
}

// Ride event kinds published on lifecycle transitions.
const (
	EventRideBooked           = "ride.booked"
	EventRideBookingCancelled = "ride.booking_cancelled"
	EventRideCancelled        = "ride.cancelled"
	EventRideCompleted        = "ride.completed"
)

// RideEvent is the kafka payload for a lifecycle transition. UserID is the
// user the event should be delivered to, not the one who caused it.
type RideEvent struct {
	Kind    string    `json:"kind"`
	RideID  string    `json:"ride_id"`
	UserID  string    `json:"user_id,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notification is the persisted form of a ride event addressed to one user.
type Notification struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	UserID    string    `json:"user_id" bson:"user_id"`
	RideID    string    `json:"ride_id" bson:"ride_id"`
	Message   string    `json:"message" bson:"message"`
	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
