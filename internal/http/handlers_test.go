package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notify"
	"github.com/example/carpool-matching/internal/routing"
	"github.com/example/carpool-matching/internal/storage"
)

type stubOracle struct {
	route routing.Route
	err   error
}

func (s *stubOracle) Route(ctx context.Context, coords [][]float64) (routing.Route, error) {
	if s.err != nil {
		return routing.Route{}, s.err
	}
	return s.route, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func (p *recordingPublisher) Publish(e models.RideEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func newTestServer(oracle routing.Oracle) (*Server, *storage.MemoryStore, *recordingPublisher) {
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	m := &matcher.Service{Rides: store, Oracle: oracle}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	srv := NewServer(store, store, m, oracle, pub, notify.NewRegistry(), logger)
	return srv, store, pub
}

func doJSON(t *testing.T, srv *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createRideBody() map[string]any {
	return map[string]any{
		"origin":         map[string]any{"lat": 0.0, "lon": 0.0, "address": "Origin Rd"},
		"destination":    map[string]any{"lat": 2.0, "lon": 0.0, "address": "Dest Ave"},
		"departure_time": time.Now().Add(3 * time.Hour).Format(time.RFC3339),
		"seats":          2,
		"max_detour_km":  10.0,
		"vehicle_type":   models.VehicleCar,
	}
}

func TestCreateRidePopulatesRouteDistanceAndFare(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 1}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, store, _ := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var ride models.Ride
	if err := json.Unmarshal(w.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ride.Distance != 222.4 {
		t.Fatalf("distance: %f", ride.Distance)
	}
	if ride.Fare != 1829 { // round(50 + 222.4*8)
		t.Fatalf("fare: %d", ride.Fare)
	}
	if len(ride.RoutePath.Coordinates) != 3 {
		t.Fatalf("route not persisted: %+v", ride.RoutePath)
	}
	if ride.AvailableSeats != 2 || ride.Status != models.RideScheduled {
		t.Fatalf("ride state: %+v", ride)
	}
	if _, err := store.GetRide(context.Background(), ride.ID); err != nil {
		t.Fatalf("ride not stored: %v", err)
	}
}

func TestCreateRideOracleDown(t *testing.T) {
	oracle := &stubOracle{err: &routing.TransientError{Op: "request", Err: context.DeadlineExceeded}}
	srv, _, _ := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSearchInvalidQueryIs400(t *testing.T) {
	srv, _, _ := newTestServer(&stubOracle{})
	w := doJSON(t, srv, "POST", "/api/v1/rides/search", "rider-1", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSearchEndToEnd(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 1}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, _, _ := newTestServer(oracle)

	if w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody()); w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}

	// detour confirmation reuses the stub: 222.4 - 222.4 = 0 <= 10
	w := doJSON(t, srv, "POST", "/api/v1/rides/search", "rider-1", map[string]any{
		"start": map[string]any{"lat": 0.01, "lon": 0.0, "address": "a"},
		"end":   map[string]any{"lat": 1.99, "lon": 0.0, "address": "b"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var matched []models.Ride
	if err := json.Unmarshal(w.Body.Bytes(), &matched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}

	// the driver searching must not see their own ride
	w = doJSON(t, srv, "POST", "/api/v1/rides/search", "driver-1", map[string]any{
		"start": map[string]any{"lat": 0.01, "lon": 0.0, "address": "a"},
		"end":   map[string]any{"lat": 1.99, "lon": 0.0, "address": "b"},
	})
	_ = json.Unmarshal(w.Body.Bytes(), &matched)
	if len(matched) != 0 {
		t.Fatalf("driver matched own ride: %+v", matched)
	}
}

func TestBookingFlow(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, store, pub := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	var ride models.Ride
	_ = json.Unmarshal(w.Body.Bytes(), &ride)

	if w := doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-1", nil); w.Code != http.StatusOK {
		t.Fatalf("book: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-1", nil); w.Code != http.StatusConflict {
		t.Fatalf("duplicate book should 409, got %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "driver-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("own-ride book should 400, got %d", w.Code)
	}

	stored, _ := store.GetRide(context.Background(), ride.ID)
	if stored.AvailableSeats != 1 || len(stored.Riders) != 1 {
		t.Fatalf("stored ride wrong: %+v", stored)
	}

	if w := doJSON(t, srv, "DELETE", "/api/v1/rides/"+ride.ID+"/booking", "rider-1", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel booking: %d", w.Code)
	}
	stored, _ = store.GetRide(context.Background(), ride.ID)
	if stored.AvailableSeats != 2 {
		t.Fatalf("seat not released: %+v", stored)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[0] != models.EventRideBooked || kinds[1] != models.EventRideBookingCancelled {
		t.Fatalf("events: %v", kinds)
	}
}

func TestBookedFareRecomputedForSpan(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, store, _ := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	var ride models.Ride
	_ = json.Unmarshal(w.Body.Bytes(), &ride)

	// rider only travels lat 0.5 -> 1.5, about 111.2 km of the 222.4
	w = doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-1", map[string]any{
		"pickup":  map[string]any{"lat": 0.5, "lon": 0.0, "address": "p"},
		"dropoff": map[string]any{"lat": 1.5, "lon": 0.0, "address": "d"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("book: %d %s", w.Code, w.Body.String())
	}
	stored, _ := store.GetRide(context.Background(), ride.ID)
	booked := stored.Riders[0].BookedFare
	if booked >= ride.Fare || booked < 900 || booked > 950 { // round(50 + ~111.2*8) ~= 940
		t.Fatalf("span fare out of range: %d (full fare %d)", booked, ride.Fare)
	}
}

func TestBookRejectsMalformedBody(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, store, _ := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	var ride models.Ride
	_ = json.Unmarshal(w.Body.Bytes(), &ride)

	req := httptest.NewRequest("POST", "/api/v1/rides/"+ride.ID+"/book", strings.NewReader(`{"pickup":`))
	req.Header.Set("X-User-ID", "rider-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body should 400, got %d %s", rec.Code, rec.Body.String())
	}
	stored, _ := store.GetRide(context.Background(), ride.ID)
	if len(stored.Riders) != 0 || stored.AvailableSeats != 2 {
		t.Fatalf("malformed book must not reserve a seat: %+v", stored)
	}
}

func TestWSUpgradeFailureRepliesOnce(t *testing.T) {
	srv, _, _ := newTestServer(&stubOracle{})

	// a plain GET fails the websocket handshake; Upgrade writes the reply itself
	req := httptest.NewRequest("GET", "/ws/u1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("failed handshake should 400, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "upgrade failed") {
		t.Fatalf("handler wrote a second error response: %s", rec.Body.String())
	}
}

func TestDriverCancelRideNotifiesActiveRiders(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, _, pub := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	var ride models.Ride
	_ = json.Unmarshal(w.Body.Bytes(), &ride)

	doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-1", nil)
	doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-2", nil)

	if w := doJSON(t, srv, "DELETE", "/api/v1/rides/"+ride.ID, "someone-else", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-driver cancel should 403, got %d", w.Code)
	}
	if w := doJSON(t, srv, "DELETE", "/api/v1/rides/"+ride.ID, "driver-1", nil); w.Code != http.StatusOK {
		t.Fatalf("driver cancel: %d", w.Code)
	}

	var cancelled int
	for _, e := range pub.events {
		if e.Kind == models.EventRideCancelled {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Fatalf("expected 2 rider notifications, got %d", cancelled)
	}
}

func TestRiderStatusFlowCompletesRide(t *testing.T) {
	oracle := &stubOracle{route: routing.Route{
		Polyline:   [][]float64{{0, 0}, {0, 2}},
		DistanceKm: 222.4,
	}}
	srv, store, pub := newTestServer(oracle)

	w := doJSON(t, srv, "POST", "/api/v1/rides", "driver-1", createRideBody())
	var ride models.Ride
	_ = json.Unmarshal(w.Body.Bytes(), &ride)
	doJSON(t, srv, "POST", "/api/v1/rides/"+ride.ID+"/book", "rider-1", nil)

	url := "/api/v1/rides/" + ride.ID + "/riders/rider-1/status"
	if w := doJSON(t, srv, "PUT", url, "rider-1", map[string]string{"status": models.RiderPickedUp}); w.Code != http.StatusForbidden {
		t.Fatalf("rider updating own status should 403, got %d", w.Code)
	}
	if w := doJSON(t, srv, "PUT", url, "driver-1", map[string]string{"status": models.RiderPickedUp}); w.Code != http.StatusOK {
		t.Fatalf("pickup: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, srv, "PUT", url, "driver-1", map[string]string{"status": models.RiderDroppedOff}); w.Code != http.StatusOK {
		t.Fatalf("dropoff: %d", w.Code)
	}

	stored, _ := store.GetRide(context.Background(), ride.ID)
	if stored.Status != models.RideCompleted {
		t.Fatalf("ride should complete, got %s", stored.Status)
	}
	var completed bool
	for _, e := range pub.events {
		if e.Kind == models.EventRideCompleted {
			completed = true
		}
	}
	if !completed {
		t.Fatal("no completion event published")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _, _ := newTestServer(&stubOracle{})

	w := doJSON(t, srv, "GET", "/healthz", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id not assigned")
	}

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("caller's request id not echoed: %q", got)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(&stubOracle{})
	w := doJSON(t, srv, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}
