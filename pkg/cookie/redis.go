package cookie

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisKey is the hash that holds the cookies of a Redis store.
const DefaultRedisKey = "wreq:cookies"

const redisTimeout = 5 * time.Second

// Redis is a Store backed by a single Redis hash, so that several machines
// can share one cookie jar. Cookies are msgpack encoded.
type Redis struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// RedisOptions configures the Redis store.
type RedisOptions struct {
	// URL is a redis:// or rediss:// URL. Ignored if Client is set.
	URL string

	// Client is an existing client. The store does not close it.
	Client redis.UniversalClient

	// Key is the hash key. Defaults to DefaultRedisKey.
	Key string
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	r := &Redis{client: opts.Client, key: opts.Key}
	if r.key == "" {
		r.key = DefaultRedisKey
	}
	if r.client == nil {
		if opts.URL == "" {
			return nil, errors.New("cookie: RedisOptions needs a URL or a Client")
		}
		ropts, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("cookie: invalid redis url: %w", err)
		}
		r.client = redis.NewClient(ropts)
		r.owned = true
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.Close()
		return nil, fmt.Errorf("cookie: failed to connect to redis: %w", err)
	}
	return r, nil
}

func (r *Redis) Put(key string, c *Cookie) error {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.HSet(ctx, r.key, key, b).Err()
}

func (r *Redis) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.HDel(ctx, r.key, key).Err()
}

func (r *Redis) All() iter.Seq2[*Cookie, error] {
	return func(yield func(*Cookie, error) bool) {
		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()
		all, err := r.client.HGetAll(ctx, r.key).Result()
		if err != nil {
			yield(nil, err)
			return
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			var c Cookie
			if err := msgpack.Unmarshal([]byte(all[k]), &c); err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(&c, nil) {
				return
			}
		}
	}
}

func (r *Redis) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.Del(ctx, r.key).Err()
}

// Close closes the client if the store created it.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
