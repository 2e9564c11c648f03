package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configures the redis backend and its connect-retry policy.
type RedisOptions struct {
	Addr           string
	Username       string
	Password       string
	DB             int
	KeyPrefix      string        // e.g. "maintenance:"
	DialTimeout    time.Duration // per-dial timeout
	OpTimeout      time.Duration // read/write timeout per command
	ConnectTimeout time.Duration // total time allowed for the initial connection
	RetryInterval  time.Duration // first wait between pings, doubles up to MaxWait
	MaxWait        time.Duration
}

type redisStore struct {
	client   *redis.Client
	flagKey  string
	allowKey string
}

// NewRedisStore connects to redis, retrying with exponential backoff until
// ConnectTimeout elapses or ctx is cancelled.
func NewRedisStore(ctx context.Context, opts RedisOptions, log zerolog.Logger) (Store, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
	})

	if err := connectWithRetry(ctx, client, opts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisStoreFromClient(client, opts.KeyPrefix), nil
}

func newRedisStoreFromClient(client *redis.Client, prefix string) *redisStore {
	return &redisStore{
		client:   client,
		flagKey:  prefix + "flag",
		allowKey: prefix + "allowlist",
	}
}

func connectWithRetry(ctx context.Context, client *redis.Client, opts RedisOptions, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info().Str("addr", opts.Addr).Dur("timeout", opts.ConnectTimeout).Msg("connecting to redis")
	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		err := client.Ping(ctx).Err()
		if err == nil {
			if attempt > 1 {
				log.Warn().Str("addr", opts.Addr).Int("attempts", attempt).Msg("connected to redis after retry")
			} else {
				log.Info().Str("addr", opts.Addr).Msg("connected to redis")
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			log.Warn().Err(err).Str("addr", opts.Addr).Int("attempt", attempt).
				Dur("next_retry_in", wait).Msg("redis connection failed, retrying")
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

// ---- Flag ------------------------------------------------------------------

func (s *redisStore) GetFlag(ctx context.Context) (FlagRecord, bool, error) {
	v, err := s.client.Get(ctx, s.flagKey).Result()
	if errors.Is(err, redis.Nil) {
		return FlagRecord{}, false, nil
	}
	if err != nil {
		return FlagRecord{}, false, persistErr("read flag", err)
	}
	rec, err := decodeEpoch(v)
	if err != nil {
		return FlagRecord{}, false, persistErr("decode flag", err)
	}
	return rec, true, nil
}

// SetFlag stores the epoch and, for expiring flags, lets redis drop the key at the deadline.
func (s *redisStore) SetFlag(ctx context.Context, rec FlagRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.flagKey, encodeEpoch(rec), 0)
		if !rec.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, s.flagKey, rec.ExpiresAt)
		}
		return nil
	})
	return persistErr("write flag", err)
}

func (s *redisStore) DeleteFlag(ctx context.Context) error {
	return persistErr("delete flag", s.client.Del(ctx, s.flagKey).Err())
}

// ---- Allow list ------------------------------------------------------------

func (s *redisStore) PutAllowed(ctx context.Context, id string) error {
	return persistErr("put allowed", s.client.SAdd(ctx, s.allowKey, id).Err())
}

func (s *redisStore) DeleteAllowed(ctx context.Context, id string) error {
	return persistErr("delete allowed", s.client.SRem(ctx, s.allowKey, id).Err())
}

func (s *redisStore) ListAllowed(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.allowKey).Result()
	if err != nil {
		return nil, persistErr("list allowed", err)
	}
	return ids, nil
}

func (s *redisStore) HasAllowed(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.allowKey, id).Result()
	if err != nil {
		return false, persistErr("has allowed", err)
	}
	return ok, nil
}

// ---- Utility ---------------------------------------------------------------

func (s *redisStore) Ping(ctx context.Context) error {
	return persistErr("ping", s.client.Ping(ctx).Err())
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
