package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func orsPayload(distanceMeters float64, coords [][]float64) map[string]any {
	return map[string]any{
		"features": []map[string]any{
			{
				"geometry":   map[string]any{"coordinates": coords},
				"properties": map[string]any{"summary": map[string]any{"distance": distanceMeters}},
			},
		},
	}
}

func TestORSClientRoute(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		Coordinates [][]float64 `json:"coordinates"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/driving-car/geojson" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(orsPayload(12500, [][]float64{{0, 0}, {0, 1}}))
	}))
	defer srv.Close()

	c := NewORSClient(srv.URL, "test-key", 2*time.Second)
	route, err := c.Route(context.Background(), [][]float64{{77.59, 12.97}, {80.27, 13.08}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.DistanceKm != 12.5 {
		t.Fatalf("distance: got %f want 12.5", route.DistanceKm)
	}
	if len(route.Polyline) != 2 {
		t.Fatalf("polyline: got %d points", len(route.Polyline))
	}
	if gotAuth != "test-key" {
		t.Fatalf("auth header: got %q", gotAuth)
	}
	if len(gotBody.Coordinates) != 2 {
		t.Fatalf("request coordinates: got %d", len(gotBody.Coordinates))
	}
}

func TestORSClientNon2xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewORSClient(srv.URL, "", 2*time.Second)
	_, err := c.Route(context.Background(), [][]float64{{0, 0}, {1, 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %T: %v", err, err)
	}
}

func TestORSClientEmptyFeaturesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	c := NewORSClient(srv.URL, "", 2*time.Second)
	if _, err := c.Route(context.Background(), [][]float64{{0, 0}, {1, 1}}); !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestORSClientConnectionRefusedIsTransient(t *testing.T) {
	c := NewORSClient("http://127.0.0.1:1", "", 500*time.Millisecond)
	if _, err := c.Route(context.Background(), [][]float64{{0, 0}, {1, 1}}); !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestORSClientRejectsShortWaypointList(t *testing.T) {
	c := NewORSClient("http://unused", "", time.Second)
	_, err := c.Route(context.Background(), [][]float64{{0, 0}})
	if err == nil {
		t.Fatal("expected error for single waypoint")
	}
	if IsTransient(err) {
		t.Fatal("caller mistake must not look transient")
	}
}

func TestORSClientContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewORSClient(srv.URL, "", 10*time.Second)
	_, err := c.Route(ctx, [][]float64{{0, 0}, {1, 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected transient/deadline error, got %v", err)
	}
}
