package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo on Redis GEO commands so several instances can
// share one index. Ordering at equal distance follows GEOSEARCH and does not
// guarantee the in-memory tie-break on update recency.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(id string, lat, lon float64) error {
	if err := r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: lon, Latitude: lat, Name: id}).Err(); err != nil {
		return err
	}
	return r.client.HSet(r.ctx, metaKey(id), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisGeo) Remove(id string) {
	_ = r.client.ZRem(r.ctx, r.key, id).Err()
	_ = r.client.Del(r.ctx, metaKey(id)).Err()
}

func (r *RedisGeo) Query(lat, lon, radiusMeters float64, limit int, filter func(id string) bool) []Match {
	// over-fetch so client-side filtering can still fill the limit
	count := limit * 4
	if count <= 0 {
		count = 200
	}
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters, Unit: "m", WithDist: true, Count: count, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Match, 0, len(res))
	for _, g := range res {
		if filter != nil && !filter(g.Name) {
			continue
		}
		out = append(out, Match{ID: g.Name, DistanceMeters: g.Dist})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func metaKey(id string) string { return "presence:meta:" + id }
