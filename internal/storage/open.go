package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Options selects and configures a backend.
type Options struct {
	Backend string // file, bbolt or redis
	DataDir string
	Redis   RedisOptions
}

// Open builds the Store named by opts.Backend.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.DataDir)
	case BackendBbolt:
		return NewBboltStore(opts.DataDir)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
