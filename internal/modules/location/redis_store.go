// README: Driver positions in a Redis GEO set with a per-driver liveness key.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridebid/internal/types"
)

const (
	driverGeoKey  = "location:drivers"
	liveKeyPrefix = "location:live:"
)

type RedisStore struct {
	redis      *redis.Client
	staleAfter time.Duration
}

func NewRedisStore(client *redis.Client, staleAfter time.Duration) *RedisStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &RedisStore{redis: client, staleAfter: staleAfter}
}

func liveKey(id types.ID) string { return liveKeyPrefix + string(id) }

func (s *RedisStore) Update(ctx context.Context, driverID types.ID, p types.Point, _ time.Time) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.Set(ctx, liveKey(driverID), "1", s.staleAfter)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Position(ctx context.Context, driverID types.ID) (types.Point, bool, error) {
	n, err := s.redis.Exists(ctx, liveKey(driverID)).Result()
	if err != nil {
		return types.Point{}, false, err
	}
	if n == 0 {
		return types.Point{}, false, nil
	}
	pos, err := s.redis.GeoPos(ctx, driverGeoKey, string(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Point{}, false, nil
	}
	if err != nil {
		return types.Point{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true, nil
}

func (s *RedisStore) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	results, err := s.redis.GeoRadius(ctx, driverGeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	live := make([]*redis.IntCmd, len(results))
	for i, r := range results {
		live[i] = pipe.Exists(ctx, liveKey(types.ID(r.Name)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]Nearby, 0, len(results))
	var stale []interface{}
	for i, r := range results {
		if live[i].Val() == 0 {
			stale = append(stale, r.Name)
			continue
		}
		out = append(out, Nearby{
			DriverID:   types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(stale) > 0 {
		// Best effort; a failed cleanup only leaves entries that stay filtered.
		_ = s.redis.ZRem(ctx, driverGeoKey, stale...).Err()
	}
	return out, nil
}

func (s *RedisStore) Remove(ctx context.Context, driverID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.Del(ctx, liveKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}
