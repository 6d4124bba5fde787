package geo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedResolver кэширует успешные ответы в Redis и схлопывает
// одновременные запросы одного и того же IP в один вызов.
type CachedResolver struct {
	next   Resolver
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedResolver {
	return &CachedResolver{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *CachedResolver) Lookup(ctx context.Context, ip string) (Result, error) {
	if r.redis != nil {
		country, err := r.redis.Get(ctx, cacheKey(ip)).Result()
		switch {
		case err == nil:
			return Result{Country: country, Success: true}, nil
		case !errors.Is(err, redis.Nil):
			r.logger.Debug("Geo cache read failed", zap.String("ip", ip), zap.Error(err))
		}
	}

	v, err, _ := r.group.Do(ip, func() (any, error) {
		return r.next.Lookup(ctx, ip)
	})
	if err != nil {
		return Result{}, err
	}

	res := v.(Result)
	if res.Success && r.redis != nil && r.ttl > 0 {
		if err := r.redis.Set(ctx, cacheKey(ip), res.Country, r.ttl).Err(); err != nil {
			r.logger.Debug("Geo cache write failed", zap.String("ip", ip), zap.Error(err))
		}
	}
	return res, nil
}

func cacheKey(ip string) string {
	return "geo:" + ip
}
