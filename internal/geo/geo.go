// README: Distance and ETA estimation between a driver and a pickup point.
package geo

import (
	"context"
	"math"
	"time"

	"ridebid/internal/types"
)

const earthRadiusKm = 6371.0

type Estimate struct {
	DistanceKm float64       `json:"distance_km"`
	ETA        time.Duration `json:"eta"`
}

type Estimator interface {
	Estimate(ctx context.Context, from, to types.Point) (Estimate, error)
}

// BatchEstimator estimates one origin against many destinations in one call.
type BatchEstimator interface {
	EstimateMany(ctx context.Context, from types.Point, to []types.Point) ([]Estimate, error)
}

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Haversine estimates ETA from straight-line distance at a constant city speed.
type Haversine struct {
	SpeedKmh float64
}

func (h Haversine) Estimate(_ context.Context, from, to types.Point) (Estimate, error) {
	speed := h.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	d := HaversineKm(from, to)
	return Estimate{
		DistanceKm: d,
		ETA:        time.Duration(d / speed * float64(time.Hour)).Round(time.Second),
	}, nil
}

// EstimateAll uses a batch call when est supports it and falls back to
// per-point calls otherwise.
func EstimateAll(ctx context.Context, est Estimator, from types.Point, to []types.Point) ([]Estimate, error) {
	if b, ok := est.(BatchEstimator); ok {
		return b.EstimateMany(ctx, from, to)
	}
	out := make([]Estimate, len(to))
	for i, p := range to {
		e, err := est.Estimate(ctx, from, p)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
