// README: Hold store backed by Redis; each mutation is one Lua script so check-and-set is atomic.
package hold

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridebid/internal/types"
)

const (
	holdKeyPrefix   = "hold:h:"
	rideKeyPrefix   = "hold:ride:"
	driverKeyPrefix = "hold:driver:"
	activeKey       = "hold:active"
	// Closed holds are kept for inspection and then left to Redis expiry.
	keyTTL = 7 * 24 * time.Hour
)

// Scripts build per-hold keys from prefixes, so the store assumes a single
// Redis node rather than a cluster.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[4])
if cur then
  local hk = ARGV[7] .. cur
  local st = redis.call('HGET', hk, 'status')
  if st == 'active' then
    local exp = tonumber(redis.call('HGET', hk, 'expires_at'))
    local drv = redis.call('HGET', hk, 'driver_id')
    if exp > now then
      if drv ~= ARGV[2] then
        return {0, cur}
      end
      redis.call('HSET', hk, 'expires_at', ARGV[5], 'updated_at', ARGV[4])
      redis.call('ZADD', KEYS[2], ARGV[5], cur)
      return {1, cur}
    end
    redis.call('HSET', hk, 'status', 'expired', 'updated_at', ARGV[4])
    redis.call('ZREM', KEYS[2], cur)
    redis.call('SREM', ARGV[8] .. drv, cur)
  end
end
local hk = ARGV[7] .. ARGV[1]
redis.call('HSET', hk, 'id', ARGV[1], 'driver_id', ARGV[2], 'ride_id', ARGV[3], 'status', 'active',
  'expires_at', ARGV[5], 'created_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('EXPIRE', hk, ARGV[6])
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('EXPIRE', KEYS[3], ARGV[6])
return {1, ARGV[1]}
`)

// closeScript closes the ride's active hold. ARGV[1] is the driver that must
// own it ("" for any), ARGV[2] the winner that gets "accepted".
var closeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return false
end
local hk = ARGV[4] .. cur
if redis.call('HGET', hk, 'status') ~= 'active' then
  redis.call('DEL', KEYS[1])
  return false
end
local drv = redis.call('HGET', hk, 'driver_id')
if ARGV[1] ~= '' and drv ~= ARGV[1] then
  return false
end
local st = 'released'
if ARGV[2] ~= '' and drv == ARGV[2] then
  st = 'accepted'
elseif tonumber(redis.call('HGET', hk, 'expires_at')) <= tonumber(ARGV[3]) then
  st = 'expired'
end
redis.call('HSET', hk, 'status', st, 'updated_at', ARGV[3])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], cur)
redis.call('SREM', ARGV[5] .. drv, cur)
return cur
`)

var sweepScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local out = {}
for _, id in ipairs(ids) do
  local hk = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('HGET', hk, 'status') == 'active' then
    redis.call('HSET', hk, 'status', 'expired', 'updated_at', ARGV[1])
    local rk = ARGV[3] .. redis.call('HGET', hk, 'ride_id')
    if redis.call('GET', rk) == id then
      redis.call('DEL', rk)
    end
    redis.call('SREM', ARGV[4] .. redis.call('HGET', hk, 'driver_id'), id)
    table.insert(out, id)
  end
end
return out
`)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Acquire(ctx context.Context, driverID, rideID types.ID, now, expiresAt time.Time) (*Hold, *Hold, error) {
	res, err := acquireScript.Run(ctx, s.redis,
		[]string{rideKey(rideID), activeKey, driverKey(driverID)},
		string(types.NewID()), string(driverID), string(rideID),
		now.UnixMilli(), expiresAt.UnixMilli(), int64(keyTTL/time.Second),
		holdKeyPrefix, driverKeyPrefix,
	).Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire hold: %w", err)
	}
	if len(res) != 2 {
		return nil, nil, fmt.Errorf("acquire hold: unexpected reply %v", res)
	}
	ok, _ := res[0].(int64)
	id, _ := res[1].(string)
	h, err := s.get(ctx, types.ID(id))
	if err != nil {
		return nil, nil, err
	}
	if ok != 1 {
		return nil, h, nil
	}
	return h, nil, nil
}

func (s *RedisStore) Release(ctx context.Context, driverID, rideID types.ID, now time.Time) (bool, error) {
	id, err := s.close(ctx, rideID, driverID, "", now)
	if err != nil {
		return false, fmt.Errorf("release hold: %w", err)
	}
	return id != "", nil
}

func (s *RedisStore) Resolve(ctx context.Context, rideID, winner types.ID, now time.Time) (*Hold, error) {
	id, err := s.close(ctx, rideID, "", winner, now)
	if err != nil {
		return nil, fmt.Errorf("resolve hold: %w", err)
	}
	if id == "" {
		return nil, nil
	}
	return s.get(ctx, id)
}

func (s *RedisStore) ActiveForRide(ctx context.Context, rideID types.ID, now time.Time) (*Hold, error) {
	id, err := s.redis.Get(ctx, rideKey(rideID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h, err := s.get(ctx, types.ID(id))
	if err != nil || h == nil || !h.ActiveAt(now) {
		return nil, err
	}
	return h, nil
}

func (s *RedisStore) ListActiveByDriver(ctx context.Context, driverID types.ID, now time.Time) ([]Hold, error) {
	ids, err := s.redis.SMembers(ctx, driverKey(driverID)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadActive(ctx, ids, now)
}

func (s *RedisStore) ListActive(ctx context.Context, now time.Time) ([]Hold, error) {
	ids, err := s.redis.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.loadActive(ctx, ids, now)
}

func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) ([]Hold, error) {
	ids, err := sweepScript.Run(ctx, s.redis, []string{activeKey},
		now.UnixMilli(), holdKeyPrefix, rideKeyPrefix, driverKeyPrefix,
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("sweep holds: %w", err)
	}
	out := make([]Hold, 0, len(ids))
	for _, id := range ids {
		h, err := s.get(ctx, types.ID(id))
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *RedisStore) close(ctx context.Context, rideID, owner, winner types.ID, now time.Time) (types.ID, error) {
	id, err := closeScript.Run(ctx, s.redis, []string{rideKey(rideID), activeKey},
		string(owner), string(winner), now.UnixMilli(), holdKeyPrefix, driverKeyPrefix,
	).Text()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return types.ID(id), nil
}

func (s *RedisStore) loadActive(ctx context.Context, ids []string, now time.Time) ([]Hold, error) {
	if len(ids) == 0 {
		return []Hold{}, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, holdKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]Hold, 0, len(ids))
	for _, cmd := range cmds {
		h, err := decodeHold(cmd.Val())
		if err != nil {
			return nil, err
		}
		if h != nil && h.ActiveAt(now) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *RedisStore) get(ctx context.Context, id types.ID) (*Hold, error) {
	m, err := s.redis.HGetAll(ctx, holdKeyPrefix+string(id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeHold(m)
}

func decodeHold(m map[string]string) (*Hold, error) {
	if len(m) == 0 {
		return nil, nil
	}
	h := &Hold{
		ID:       types.ID(m["id"]),
		DriverID: types.ID(m["driver_id"]),
		RideID:   types.ID(m["ride_id"]),
		Status:   Status(m["status"]),
	}
	var err error
	if h.ExpiresAt, err = parseMillis(m["expires_at"]); err != nil {
		return nil, err
	}
	if h.CreatedAt, err = parseMillis(m["created_at"]); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = parseMillis(m["updated_at"]); err != nil {
		return nil, err
	}
	return h, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode hold timestamp %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func rideKey(id types.ID) string {
	return rideKeyPrefix + string(id)
}

func driverKey(id types.ID) string {
	return driverKeyPrefix + string(id)
}
