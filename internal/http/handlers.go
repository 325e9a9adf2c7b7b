// Package httpapi exposes the matching engine and ride lifecycle over REST,
// plus a websocket endpoint for notification delivery.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/fare"
	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notify"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/routing"
	"github.com/example/carpool-matching/internal/storage"
)

// Server wires the matcher, stores and side channels behind a mux router.
// Auth lives upstream; the authenticated user arrives as the X-User-ID
// header set by the gateway.
type Server struct {
	Rides    storage.RideStore
	Notes    storage.NotificationStore
	Matcher  *matcher.Service
	Oracle   routing.Oracle
	Events   events.Publisher
	Registry *notify.Registry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(rides storage.RideStore, notes storage.NotificationStore, m *matcher.Service,
	oracle routing.Oracle, pub events.Publisher, reg *notify.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Rides:    rides,
		Notes:    notes,
		Matcher:  m,
		Oracle:   oracle,
		Events:   pub,
		Registry: reg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/search", s.handleSearch).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/book", s.handleBook).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/booking", s.handleCancelBooking).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleCancelRide).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/rides/{id}/riders/{user_id}/status", s.handleRiderStatus).Methods("PUT")
	s.mux.HandleFunc("/api/v1/notifications", s.handleNotifications).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func userID(r *http.Request) string { return r.Header.Get("X-User-ID") }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// lifecycleStatus maps domain rule violations onto HTTP codes.
func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoSeats),
		errors.Is(err, models.ErrAlreadyBooked),
		errors.Is(err, models.ErrPastDeparture),
		errors.Is(err, models.ErrNotScheduled),
		errors.Is(err, models.ErrBadRiderStatus):
		return http.StatusConflict
	case errors.Is(err, models.ErrOwnRide),
		errors.Is(err, models.ErrNotRider):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotRideDriver):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type createRideRequest struct {
	Origin        models.GeoPoint `json:"origin"`
	Destination   models.GeoPoint `json:"destination"`
	DepartureTime time.Time       `json:"departure_time"`
	Seats         int             `json:"seats"`
	MaxDetourKm   float64         `json:"max_detour_km"`
	VehicleType   string          `json:"vehicle_type"`
	VehicleNumber string          `json:"vehicle_number"`
	DriverName    string          `json:"driver_name"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	driver := userID(r)
	if driver == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zero := models.GeoPoint{}
	if req.Origin == zero || req.Destination == zero {
		writeError(w, http.StatusBadRequest, "origin and destination are required")
		return
	}
	if req.Seats < 1 {
		writeError(w, http.StatusBadRequest, "seats must be at least 1")
		return
	}
	if !req.DepartureTime.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "departure time must be in the future")
		return
	}

	// the oracle is consulted exactly once per ride, at creation
	route, err := s.Oracle.Route(r.Context(), [][]float64{
		{req.Origin.Lon, req.Origin.Lat},
		{req.Destination.Lon, req.Destination.Lat},
	})
	if err != nil {
		if routing.IsTransient(err) {
			writeError(w, http.StatusServiceUnavailable, "routing service unavailable, retry later")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	ride := &models.Ride{
		ID:             newID(),
		DriverID:       driver,
		DriverName:     req.DriverName,
		Origin:         req.Origin,
		Destination:    req.Destination,
		DepartureTime:  req.DepartureTime,
		TotalSeats:     req.Seats,
		AvailableSeats: req.Seats,
		Fare:           fare.Calculate(route.DistanceKm, req.VehicleType),
		Distance:       route.DistanceKm,
		MaxDetourKm:    req.MaxDetourKm,
		VehicleType:    req.VehicleType,
		VehicleNumber:  req.VehicleNumber,
		RoutePath:      models.RoutePath{Type: "LineString", Coordinates: route.Polyline},
		Status:         models.RideScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Rides.SaveRide(r.Context(), ride); err != nil {
		s.logger.Error("save ride failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not store ride, retry later")
		return
	}
	observability.RidesCreated.Inc()
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q models.MatchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.RequesterID = userID(r)

	matched, err := s.Matcher.Match(r.Context(), q)
	switch {
	case errors.Is(err, matcher.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, matcher.ErrRepository):
		writeError(w, http.StatusServiceUnavailable, "search temporarily unavailable, retry")
	case err != nil:
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
	default:
		writeJSON(w, http.StatusOK, matched)
	}
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type bookRequest struct {
	// Optional actual pickup/dropoff span; when present the booked fare is
	// recomputed for the span instead of defaulting to the full-ride fare.
	Pickup  *models.GeoPoint `json:"pickup,omitempty"`
	Dropoff *models.GeoPoint `json:"dropoff,omitempty"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req bookRequest
	if r.Body != nil {
		// empty body books at the full-ride fare; a malformed body is an error
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}

	bookedFare := ride.Fare
	if req.Pickup != nil && req.Dropoff != nil {
		span := geo.Distance(*req.Pickup, *req.Dropoff)
		bookedFare = fare.Calculate(span, ride.VehicleType)
	}

	if err := ride.Book(user, bookedFare, time.Now()); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := s.Rides.UpdateRide(r.Context(), ride); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	observability.BookingsTotal.Inc()
	s.publish(models.RideEvent{
		Kind:    models.EventRideBooked,
		RideID:  ride.ID,
		UserID:  ride.DriverID,
		Message: "A rider booked a seat on your ride to " + ride.Destination.Address,
		At:      time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "ride booked", "booked_fare": bookedFare})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := ride.CancelBooking(user, time.Now()); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := s.Rides.UpdateRide(r.Context(), ride); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	s.publish(models.RideEvent{
		Kind:    models.EventRideBookingCancelled,
		RideID:  ride.ID,
		UserID:  ride.DriverID,
		Message: "A rider cancelled their booking on your ride to " + ride.Destination.Address,
		At:      time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "booking cancelled"})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := ride.Cancel(user, time.Now()); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := s.Rides.UpdateRide(r.Context(), ride); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	// every rider with an active booking hears about the cancellation
	for _, e := range ride.Riders {
		if e.Terminal() {
			continue
		}
		s.publish(models.RideEvent{
			Kind:    models.EventRideCancelled,
			RideID:  ride.ID,
			UserID:  e.UserID,
			Message: "Your driver cancelled the ride to " + ride.Destination.Address,
			At:      time.Now(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ride cancelled"})
}

type riderStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleRiderStatus(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	vars := mux.Vars(r)

	ride, err := s.Rides.GetRide(r.Context(), vars["id"])
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if ride.DriverID != user {
		writeError(w, http.StatusForbidden, models.ErrNotRideDriver.Error())
		return
	}
	var req riderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ride.SetRiderStatus(vars["user_id"], req.Status, time.Now()); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if err := s.Rides.UpdateRide(r.Context(), ride); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	if ride.Status == models.RideCompleted {
		s.publish(models.RideEvent{
			Kind:    models.EventRideCompleted,
			RideID:  ride.ID,
			UserID:  ride.DriverID,
			Message: "Your ride to " + ride.Destination.Address + " is complete",
			At:      time.Now(),
		})
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	notes, err := s.Notes.ListNotifications(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "notifications unavailable, retry")
		return
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.logger.Warn("websocket upgrade failed", "user_id", id, "error", err)
		return
	}
	s.Registry.Add(id, conn)
	// reader loop only to observe close; clients never send
	go func() {
		defer s.Registry.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// publish sends the event to kafka best-effort and mirrors it straight to a
// connected websocket so online users see it without waiting on the consumer.
func (s *Server) publish(e models.RideEvent) {
	if s.Events != nil {
		if err := s.Events.Publish(e); err != nil {
			s.logger.Warn("event publish failed", "kind", e.Kind, "ride_id", e.RideID, "error", err)
		}
	}
	if s.Registry != nil {
		_ = s.Registry.Push(e.UserID, models.Notification{
			UserID:    e.UserID,
			RideID:    e.RideID,
			Message:   e.Message,
			CreatedAt: e.At,
		})
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
