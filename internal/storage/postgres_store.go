package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/carpool-matching/internal/models"
)

// PostgresStore is an alternative RideStore for deployments that already run
// postgres. Route and rider structures are stored as JSONB since nothing
// queries into them server-side.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	route, err := json.Marshal(r.RoutePath)
	if err != nil {
		return err
	}
	riders, err := json.Marshal(r.Riders)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(
		id, driver_id, driver_name, origin_lat, origin_lon, origin_address,
		dest_lat, dest_lon, dest_address, departure_time, total_seats,
		available_seats, fare, distance_km, max_detour_km, vehicle_type,
		vehicle_number, route_path, riders, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.DriverID, r.DriverName,
		r.Origin.Lat, r.Origin.Lon, r.Origin.Address,
		r.Destination.Lat, r.Destination.Lon, r.Destination.Address,
		r.DepartureTime, r.TotalSeats, r.AvailableSeats, r.Fare,
		r.Distance, r.MaxDetourKm, r.VehicleType, r.VehicleNumber,
		route, riders, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT
		id, driver_id, driver_name, origin_lat, origin_lon, origin_address,
		dest_lat, dest_lon, dest_address, departure_time, total_seats,
		available_seats, fare, distance_km, max_detour_km, vehicle_type,
		vehicle_number, route_path, riders, status, created_at, updated_at
		FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	riders, err := json.Marshal(r.Riders)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET available_seats=$1, riders=$2, status=$3, updated_at=$4 WHERE id=$5`,
		r.AvailableSeats, riders, r.Status, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *PostgresStore) FindCandidates(ctx context.Context, f CandidateFilter) ([]models.Ride, error) {
	q := `SELECT
		id, driver_id, driver_name, origin_lat, origin_lon, origin_address,
		dest_lat, dest_lon, dest_address, departure_time, total_seats,
		available_seats, fare, distance_km, max_detour_km, vehicle_type,
		vehicle_number, route_path, riders, status, created_at, updated_at
		FROM rides
		WHERE status=$1 AND departure_time > $2 AND available_seats >= $3 AND driver_id <> $4`
	args := []any{models.RideScheduled, f.DepartAfter, f.MinSeats, f.ExcludeDriverID}
	if f.VehicleType != "" {
		q += ` AND vehicle_type = $5`
		args = append(args, f.VehicleType)
	}
	q += ` ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var route, riders []byte
	err := row.Scan(
		&r.ID, &r.DriverID, &r.DriverName,
		&r.Origin.Lat, &r.Origin.Lon, &r.Origin.Address,
		&r.Destination.Lat, &r.Destination.Lon, &r.Destination.Address,
		&r.DepartureTime, &r.TotalSeats, &r.AvailableSeats, &r.Fare,
		&r.Distance, &r.MaxDetourKm, &r.VehicleType, &r.VehicleNumber,
		&route, &riders, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &r.RoutePath); err != nil {
			return nil, fmt.Errorf("decode route_path for ride %s: %w", r.ID, err)
		}
	}
	if len(riders) > 0 {
		if err := json.Unmarshal(riders, &r.Riders); err != nil {
			return nil, fmt.Errorf("decode riders for ride %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
