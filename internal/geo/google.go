// README: Google Maps Distance Matrix estimator (driving).
package geo

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"ridebid/internal/types"
)

// Distance Matrix accepts at most 25 destinations per request.
const maxDestinations = 25

type GoogleMaps struct {
	client *maps.Client
}

func NewGoogleMaps(apiKey string) (*GoogleMaps, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMaps{client: client}, nil
}

func (g *GoogleMaps) Estimate(ctx context.Context, from, to types.Point) (Estimate, error) {
	out, err := g.EstimateMany(ctx, from, []types.Point{to})
	if err != nil {
		return Estimate{}, err
	}
	return out[0], nil
}

func (g *GoogleMaps) EstimateMany(ctx context.Context, from types.Point, to []types.Point) ([]Estimate, error) {
	out := make([]Estimate, 0, len(to))
	for start := 0; start < len(to); start += maxDestinations {
		end := start + maxDestinations
		if end > len(to) {
			end = len(to)
		}
		chunk, err := g.matrix(ctx, from, to[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (g *GoogleMaps) matrix(ctx context.Context, from types.Point, to []types.Point) ([]Estimate, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: make([]string, len(to)),
		Mode:         maps.TravelModeDriving,
	}
	for i, p := range to {
		req.Destinations[i] = latLng(p)
	}
	resp, err := g.client.DistanceMatrix(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) != len(to) {
		return nil, fmt.Errorf("maps api returned %d rows for %d destinations", len(resp.Rows), len(to))
	}
	out := make([]Estimate, len(to))
	for i, el := range resp.Rows[0].Elements {
		if el.Status != "OK" {
			// Unroutable pairs keep the straight-line distance.
			out[i] = Estimate{DistanceKm: HaversineKm(from, to[i])}
			continue
		}
		out[i] = Estimate{DistanceKm: float64(el.Distance.Meters) / 1000, ETA: el.Duration}
	}
	return out, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
