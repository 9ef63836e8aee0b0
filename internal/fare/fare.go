package fare

import (
	"math"

	"github.com/example/ride-client/internal/geo"
	"github.com/example/ride-client/internal/models"
)

// Rate holds the pricing parameters for one vehicle class. The table is
// configuration, not logic; callers may override DefaultRates wholesale.
type Rate struct {
	Base  float64
	PerKm float64
}

// RateTable maps vehicle classes to their rates.
type RateTable map[models.VehicleClass]Rate

// DefaultRates mirrors the production pricing tiers.
func DefaultRates() RateTable {
	return RateTable{
		models.VehicleBike:  {Base: 20, PerKm: 6},
		models.VehicleAuto:  {Base: 30, PerKm: 10},
		models.VehicleCar:   {Base: 80, PerKm: 15},
		models.VehicleShare: {Base: 50, PerKm: 9},
	}
}

// minEtaMinutes is the floor applied to every ETA estimate. Even a
// zero-distance trip needs time for the driver to arrive.
const minEtaMinutes = 1

// Estimate returns base + perKm*distance for the class, rounded to the
// currency minor unit. Unknown classes fall back to Car rates so a stale
// client never quotes zero.
func (t RateTable) Estimate(class models.VehicleClass, distanceKm float64) float64 {
	r, ok := t[class]
	if !ok {
		r = t[models.VehicleCar]
	}
	return round2(r.Base + r.PerKm*distanceKm)
}

// EstimateEtaMinutes approximates pickup-to-drop travel time from straight
// line distance. Monotone in distance, never below minEtaMinutes.
func EstimateEtaMinutes(distanceKm float64) int {
	eta := int(math.Round(distanceKm*2 + 1))
	if eta < minEtaMinutes {
		eta = minEtaMinutes
	}
	return eta
}

// QuoteFor computes the full fare quote for a trip.
func (t RateTable) QuoteFor(class models.VehicleClass, pickup, drop models.Coordinate) models.FareQuote {
	d := geo.DistanceKm(pickup, drop)
	return models.FareQuote{
		VehicleClass: class,
		DistanceKm:   d,
		EtaMinutes:   EstimateEtaMinutes(d),
		Price:        t.Estimate(class, d),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
