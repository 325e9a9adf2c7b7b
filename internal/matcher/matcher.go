// Package matcher decides which offered rides can take a searching rider.
//
// The engine is a pure filter: it never mutates rides, holds no state between
// queries, and preserves the repository's candidate order in its results.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/routing"
	"github.com/example/carpool-matching/internal/storage"
)

// ErrInvalidQuery is returned before any repository call when the query is
// missing a start or end coordinate. Maps to a 400.
var ErrInvalidQuery = errors.New("match query needs both start and end coordinates")

// ErrRepository wraps candidate-fetch failures. The whole query aborts and
// the caller should retry. Maps to a 503.
var ErrRepository = errors.New("ride repository unavailable")

const (
	// DefaultThresholdKm is deliberately generous: segment distance is a
	// planar under-estimate of road distance.
	DefaultThresholdKm   = 20.0
	defaultMaxInFlight   = 4
	defaultOracleTimeout = 8 * time.Second
)

// Service evaluates match queries against the ride repository, confirming
// detours with the routing oracle.
type Service struct {
	Rides  storage.RideStore
	Oracle routing.Oracle
	Logger *slog.Logger

	// ThresholdKm is the maximum rider-to-route distance for pickup and
	// dropoff; the comparison is inclusive. Zero means DefaultThresholdKm.
	ThresholdKm float64
	// MaxInFlight bounds concurrent oracle confirmations per query.
	MaxInFlight int
	// OracleTimeout applies per confirmation call.
	OracleTimeout time.Duration

	// Now is the clock for the departure-time filter. Nil means time.Now.
	Now func() time.Time
}

func (s *Service) threshold() float64 {
	if s.ThresholdKm > 0 {
		return s.ThresholdKm
	}
	return DefaultThresholdKm
}

func (s *Service) maxInFlight() int {
	if s.MaxInFlight > 0 {
		return s.MaxInFlight
	}
	return defaultMaxInFlight
}

func (s *Service) oracleTimeout() time.Duration {
	if s.OracleTimeout > 0 {
		return s.OracleTimeout
	}
	return defaultOracleTimeout
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// candidate is one ride that passed the cheap geometric tests and awaits
// detour confirmation. idx is its position in the fetched candidate slice.
type candidate struct {
	idx  int
	ride models.Ride
}

// Match returns the viable rides for q in repository order.
//
// A candidate survives when its route passes within the threshold of both
// rider endpoints, the dropoff lies strictly after the pickup along the
// driver's direction of travel, and the oracle-confirmed detour of the
// augmented route [driver origin, rider start, rider end, driver destination]
// stays within the driver's budget. Oracle failures drop only the candidate
// they occurred on.
func (s *Service) Match(ctx context.Context, q models.MatchQuery) ([]models.Ride, error) {
	zero := models.GeoPoint{}
	if q.RiderStart == zero || q.RiderEnd == zero {
		return nil, ErrInvalidQuery
	}

	filter := storage.CandidateFilter{
		DepartAfter:     s.now(),
		MinSeats:        1,
		ExcludeDriverID: q.RequesterID,
	}
	if q.VehicleType != "" && q.VehicleType != "All" {
		filter.VehicleType = q.VehicleType
	}

	rides, err := s.Rides.FindCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	observability.SearchesTotal.Inc()
	observability.CandidatesEvaluated.Add(float64(len(rides)))

	pending := s.screen(q, rides)
	if len(pending) == 0 {
		return []models.Ride{}, nil
	}

	viable, err := s.confirmDetours(ctx, q, pending)
	if err != nil {
		return nil, err
	}

	// reassemble by candidate index, not by oracle completion order
	matched := make([]models.Ride, 0, len(pending))
	for _, c := range pending {
		if viable[c.idx] {
			matched = append(matched, c.ride)
		}
	}
	observability.MatchesTotal.Add(float64(len(matched)))
	return matched, nil
}

// screen applies the proximity and ordering tests, which need no I/O.
func (s *Service) screen(q models.MatchQuery, rides []models.Ride) []candidate {
	threshold := s.threshold()
	var pending []candidate
	for i, ride := range rides {
		coords := ride.RoutePath.Coordinates
		if len(coords) < 2 {
			// malformed or legacy document; never a match
			observability.MalformedRoutes.Inc()
			s.logger().Warn("skipping ride with malformed route",
				"ride_id", ride.ID, "points", len(coords))
			continue
		}

		pickup := geo.ClosestPointOnRoute(q.RiderStart, coords)
		dropoff := geo.ClosestPointOnRoute(q.RiderEnd, coords)

		if pickup.DistanceKm > threshold || dropoff.DistanceKm > threshold {
			continue
		}
		if dropoff.SegmentIndex <= pickup.SegmentIndex {
			// rider would travel against the driver's direction
			continue
		}
		pending = append(pending, candidate{idx: i, ride: ride})
	}
	return pending
}

// confirmDetours fans out oracle calls over the screened candidates with
// bounded concurrency and marks the viable ones by index.
func (s *Service) confirmDetours(ctx context.Context, q models.MatchQuery, pending []candidate) (map[int]bool, error) {
	viable := make(map[int]bool, len(pending))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxInFlight())

	for _, c := range pending {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// partial results are meaningless; wait out in-flight calls
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.detourAcceptable(ctx, q, c.ride) {
				mu.Lock()
				viable[c.idx] = true
				mu.Unlock()
			}
		}(c)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return viable, nil
}

// detourAcceptable asks the oracle for the augmented route and checks the
// extra distance against the driver's budget. Any oracle failure means "no
// match" for this ride only.
func (s *Service) detourAcceptable(ctx context.Context, q models.MatchQuery, ride models.Ride) bool {
	waypoints := [][]float64{
		{ride.Origin.Lon, ride.Origin.Lat},
		{q.RiderStart.Lon, q.RiderStart.Lat},
		{q.RiderEnd.Lon, q.RiderEnd.Lat},
		{ride.Destination.Lon, ride.Destination.Lat},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.oracleTimeout())
	defer cancel()

	route, err := s.Oracle.Route(callCtx, waypoints)
	if err != nil {
		observability.OracleFailures.Inc()
		s.logger().Warn("oracle detour check failed, dropping candidate",
			"ride_id", ride.ID, "error", err)
		return false
	}

	detour := route.DistanceKm - ride.Distance
	return detour <= ride.MaxDetourKm
}
