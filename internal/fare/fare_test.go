package fare

import (
	"testing"

	"github.com/example/carpool-matching/internal/models"
)

func TestZeroDistanceIsBaseFare(t *testing.T) {
	if got := Calculate(0, models.VehicleCar); got != 50 {
		t.Fatalf("car base fare: got %d want 50", got)
	}
	if got := Calculate(0, models.VehicleTwoWheeler); got != 25 {
		t.Fatalf("two-wheeler base fare: got %d want 25", got)
	}
}

func TestKnownFares(t *testing.T) {
	// distances chosen away from the .5 rounding boundary
	cases := []struct {
		distance float64
		vehicle  string
		want     int64
	}{
		{10, models.VehicleCar, 130},
		{10, models.VehicleTwoWheeler, 75},
		{12.3, models.VehicleCar, 148},       // 50 + 98.4
		{12.4, models.VehicleTwoWheeler, 87}, // 25 + 62
	}
	for _, c := range cases {
		if got := Calculate(c.distance, c.vehicle); got != c.want {
			t.Fatalf("Calculate(%v, %s) = %d, want %d", c.distance, c.vehicle, got, c.want)
		}
	}
}

func TestFareMonotoneInDistance(t *testing.T) {
	for _, v := range []string{models.VehicleCar, models.VehicleTwoWheeler} {
		prev := int64(-1)
		for _, d := range []float64{0, 0.2, 1, 4.9, 10, 25.1, 100} {
			f := Calculate(d, v)
			if f < prev {
				t.Fatalf("fare decreased for %s at %v km: %d < %d", v, d, f, prev)
			}
			prev = f
		}
	}
}

func TestUnknownVehiclePricesAsCar(t *testing.T) {
	if got, want := Calculate(7, "rickshaw"), Calculate(7, models.VehicleCar); got != want {
		t.Fatalf("unknown vehicle: got %d want %d", got, want)
	}
}
