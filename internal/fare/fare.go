// Package fare prices trips from route distance and vehicle class.
package fare

import (
	"math"

	"github.com/example/carpool-matching/internal/models"
)

// Rate is a vehicle class pricing row: flat base fare plus a per-km rate,
// both in whole currency units.
type Rate struct {
	Base  float64
	PerKm float64
}

var rates = map[string]Rate{
	models.VehicleCar:        {Base: 50, PerKm: 8},
	models.VehicleTwoWheeler: {Base: 25, PerKm: 5},
}

// RateFor returns the pricing row for a vehicle class. Unknown classes price
// as cars so a bad enum value never produces a zero fare.
func RateFor(vehicleType string) Rate {
	if r, ok := rates[vehicleType]; ok {
		return r
	}
	return rates[models.VehicleCar]
}

// Calculate returns round(base + distanceKm*perKm) in whole currency units.
// Rounding is half-away-from-zero (math.Round). Non-decreasing in distance.
func Calculate(distanceKm float64, vehicleType string) int64 {
	r := RateFor(vehicleType)
	return int64(math.Round(r.Base + distanceKm*r.PerKm))
}
