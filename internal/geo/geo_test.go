package geo

import (
	"math"
	"testing"

	"github.com/example/ride-client/internal/models"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	pts := []models.Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 28.6139, Lng: 77.2090},
		{Lat: -33.8688, Lng: 151.2093},
	}
	for _, p := range pts {
		if d := DistanceKm(p, p); d != 0 {
			t.Fatalf("DistanceKm(%v, same) = %f, want 0", p, d)
		}
	}
}

func TestDistanceSymmetricAndNonNegative(t *testing.T) {
	a := models.Coordinate{Lat: 28.6139, Lng: 77.2090}
	b := models.Coordinate{Lat: 28.4595, Lng: 77.0266}
	ab := DistanceKm(a, b)
	ba := DistanceKm(b, a)
	if ab < 0 || ba < 0 {
		t.Fatalf("negative distance: ab=%f ba=%f", ab, ba)
	}
	if math.Abs(ab-ba) > 1e-6 {
		t.Fatalf("asymmetric: ab=%f ba=%f", ab, ba)
	}
}

func TestDistanceDelhiGurgaon(t *testing.T) {
	// Connaught Place to Gurgaon, roughly 25 km as the crow flies.
	a := models.Coordinate{Lat: 28.6139, Lng: 77.2090}
	b := models.Coordinate{Lat: 28.4595, Lng: 77.0266}
	d := DistanceKm(a, b)
	if d < 24 || d > 26 {
		t.Fatalf("DistanceKm = %f, want ~24.9", d)
	}
}
