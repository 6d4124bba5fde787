package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// версия кода живёт дольше любой записи кэша
const versionTTL = 24 * time.Hour

// setIfVersion пишет ссылку, только если версия кода не менялась с момента чтения
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CacheRepository кэш разрешения короткого кода в ссылку.
// Каждая инвалидация увеличивает версию кода; Set с устаревшей версией ничего не пишет,
// поэтому чтение из БД, начатое до удаления, не вернёт ссылку в кэш.
type CacheRepository interface {
	Get(ctx context.Context, code string) (*models.Link, error)
	// Version текущая версия кода, её нужно прочитать до обращения к БД
	Version(ctx context.Context, code string) (int64, error)
	Set(ctx context.Context, code string, link *models.Link, ttl time.Duration, version int64) error
	Delete(ctx context.Context, codes ...string) error
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	data, err := r.redis.Client.Get(ctx, r.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var link models.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &link, nil
}

func (r *cacheRepository) Version(ctx context.Context, code string) (int64, error) {
	v, err := r.redis.Client.Get(ctx, r.versionKey(code)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	return v, nil
}

func (r *cacheRepository) Set(ctx context.Context, code string, link *models.Link, ttl time.Duration, version int64) error {
	if ttl <= 0 {
		return nil
	}

	// счётчики и события в кэш не попадают, они устаревают после первого клика
	cached := *link
	cached.ClickCount = 0
	cached.VisitorIDs = nil
	cached.ClickEvents = nil

	data, err := json.Marshal(&cached)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	keys := []string{r.versionKey(code), r.key(code)}
	return setIfVersion.Run(ctx, r.redis.Client, keys, version, data, ttl.Milliseconds()).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, code := range codes {
			pipe.Incr(ctx, r.versionKey(code))
			pipe.Expire(ctx, r.versionKey(code), versionTTL)
			pipe.Del(ctx, r.key(code))
		}
		return nil
	})
	return err
}

func (r *cacheRepository) key(code string) string {
	return "link:" + code
}

func (r *cacheRepository) versionKey(code string) string {
	return "link_version:" + code
}

// noopCache используется, когда кэш выключен (CACHE_ENABLED=false или STORAGE_DRIVER=memory)
type noopCache struct{}

func NewNoopCache() CacheRepository {
	return noopCache{}
}

func (noopCache) Get(context.Context, string) (*models.Link, error) {
	return nil, ErrCacheMiss
}

func (noopCache) Version(context.Context, string) (int64, error) {
	return 0, nil
}

func (noopCache) Set(context.Context, string, *models.Link, time.Duration, int64) error {
	return nil
}

func (noopCache) Delete(context.Context, ...string) error {
	return nil
}
