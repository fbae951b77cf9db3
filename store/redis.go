package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/paymcp/paymcp-go/retry"
)

// RedisClient is the minimal surface Redis needs from a client library to
// back a Redis store: a handful of raw commands rather than a full
// client interface, so any Redis driver (go-redis, redigo, rueidis) can
// satisfy it with a thin shim at the call site. No Redis client appears
// as a direct dependency in the retrieved reference pack, so this
// package depends on the command surface rather than vendoring one.
type RedisClient interface {
	// Get returns the raw string value for key, and ok=false if absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key; if ttl > 0 it is set with an expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key to value only if it does not already exist, with
	// the given expiry, and reports whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del deletes key unconditionally.
	Del(ctx context.Context, key string) error
	// CompareAndDel deletes key only if its current value equals token,
	// atomically (a Lua EVAL of "if redis.call('get',KEYS[1])==ARGV[1]
	// then return redis.call('del',KEYS[1]) else return 0 end" on a real
	// Redis server).
	CompareAndDel(ctx context.Context, key, token string) (bool, error)
}

// Redis is a distributed Store backed by a RedisClient. Keys are
// prefixed (default "paymcp:"). Lock uses SET NX EX with a random token
// value; release is the atomic CompareAndDel. Contention is handled by
// exponential backoff (100ms doubling, capped at 2s) over up to 10
// attempts before failing with ErrLockFailed.
type Redis struct {
	client RedisClient
	prefix string
	logger *slog.Logger
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix overrides the default "paymcp:" key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// NewRedis constructs a Redis-backed store over client.
func NewRedis(client RedisClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "paymcp:", logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var lockRetryConfig = retry.Config{
	MaxAttempts:  10,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Set(ctx context.Context, key string, args map[string]any, opts Options) error {
	entry := Entry{Args: args, TS: time.Now().Unix()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), string(data), opts.TTL)
}

// Get returns ok=false, err=nil on corrupt JSON — per spec §4.2, a
// corrupt value is logged and treated as absent, never thrown.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := r.client.Get(ctx, r.key(key))
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Warn("store: corrupt entry, treating as absent", "key", key, "error", err)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key))
}

// Lock acquires an exclusive lock on key via SET NX EX with a random
// token, runs fn, and releases the lock with a compare-and-delete so a
// lock this call did not hold is never released out from under another
// holder (e.g. after this call's own lock expired under its 30s TTL).
func (r *Redis) Lock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := r.key("lock:" + key)
	token := randomToken()

	acquired, err := retry.WithRetry(ctx, lockRetryConfig,
		func(error) bool { return true },
		func() (bool, error) {
			ok, err := r.client.SetNX(ctx, lockKey, token, 30*time.Second)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, errContended
			}
			return true, nil
		},
	)
	if err != nil || !acquired {
		return ErrLockFailed
	}

	defer func() {
		if _, derr := r.client.CompareAndDel(ctx, lockKey, token); derr != nil {
			r.logger.Warn("store: failed to release lock", "key", key, "error", derr)
		}
	}()

	return fn(ctx)
}

var errContended = errors.New("store: lock contended")

func randomToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a sane OS does not fail; a fallback keeps
		// Lock total rather than panicking on an exotic platform.
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
