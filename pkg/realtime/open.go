package realtime

import (
	"context"
	"fmt"
)

// Open returns the backend selected by kind ("memory" or "redis") and a
// func releasing it.
func Open(ctx context.Context, kind string, cfg RedisConfig) (Backend, func() error, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		r, err := DialRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("realtime: unknown backend %q", kind)
}
