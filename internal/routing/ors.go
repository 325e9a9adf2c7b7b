// Package routing talks to the external routing oracle. The oracle is an
// OpenRouteService-compatible directions API: it takes an ordered list of
// waypoints and returns a road-network path plus its total distance.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Route is the oracle's answer for one waypoint list.
type Route struct {
	// Polyline is the road path as [lon, lat] pairs.
	Polyline [][]float64
	// DistanceKm is the total path length.
	DistanceKm float64
}

// Oracle is the interface the matcher and the ride-creation flow depend on.
type Oracle interface {
	Route(ctx context.Context, coordinates [][]float64) (Route, error)
}

// TransientError marks oracle failures that are expected to be retryable:
// network errors, timeouts, non-2xx responses. Callers use errors.As to skip
// the affected candidate instead of failing the whole operation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("routing %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an oracle transient failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ORSClient performs directions lookups against an OpenRouteService server.
type ORSClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewORSClient(endpoint, apiKey string, timeout time.Duration) *ORSClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &ORSClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

// orsResponse covers the slice of the geojson directions response we use.
type orsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"` // meters
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

// Route asks the oracle for a driving path through coordinates ([lon, lat]
// pairs, at least 2). All failure modes surface as *TransientError except a
// caller mistake in the waypoint list.
func (o *ORSClient) Route(ctx context.Context, coordinates [][]float64) (Route, error) {
	if len(coordinates) < 2 {
		return Route{}, fmt.Errorf("routing: need at least 2 waypoints, got %d", len(coordinates))
	}

	body, err := json.Marshal(map[string]any{"coordinates": coordinates})
	if err != nil {
		return Route{}, fmt.Errorf("routing: encode request: %w", err)
	}

	url := o.Endpoint + "/v2/directions/driving-car/geojson"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Route{}, fmt.Errorf("routing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, application/geo+json")
	if o.APIKey != "" {
		req.Header.Set("Authorization", o.APIKey)
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, &TransientError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Route{}, &TransientError{Op: "request", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, &TransientError{Op: "decode", Err: err}
	}
	if len(out.Features) == 0 {
		return Route{}, &TransientError{Op: "decode", Err: errors.New("no route in response")}
	}

	f := out.Features[0]
	return Route{
		Polyline:   f.Geometry.Coordinates,
		DistanceKm: f.Properties.Summary.Distance / 1000,
	}, nil
}
