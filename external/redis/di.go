package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/lessoncall/internal/config"
	"github.com/foxseedlab/lessoncall/internal/coordination"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

const redisInitTimeout = 5 * time.Second

// RegisterDI provides the coordination adapters. Without REDIS_ADDR the
// in-process implementations are used, which only coordinate a single
// instance.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*clientHandle, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RedisAddr == "" {
			return &clientHandle{}, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisInitTimeout)
		defer cancel()
		rdb, err := OpenClient(ctx, ClientConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		return &clientHandle{rdb: rdb}, nil
	})
	do.Provide(injector, func(i do.Injector) (coordination.Guard, error) {
		if rdb := do.MustInvoke[*clientHandle](i).rdb; rdb != nil {
			return NewGuard(rdb), nil
		}
		slog.Info("redis is not configured; using in-process session guard")
		return coordination.NewMemoryGuard(), nil
	})
	do.Provide(injector, func(i do.Injector) (coordination.RoomDirectory, error) {
		if rdb := do.MustInvoke[*clientHandle](i).rdb; rdb != nil {
			return NewRoomDirectory(rdb), nil
		}
		return coordination.NewMemoryRoomDirectory(), nil
	})
	do.Provide(injector, func(i do.Injector) (coordination.Signaler, error) {
		if rdb := do.MustInvoke[*clientHandle](i).rdb; rdb != nil {
			return NewSignaler(rdb), nil
		}
		return coordination.NewMemorySignaler(), nil
	})
}

type clientHandle struct {
	rdb *goredis.Client
}

func (h *clientHandle) Shutdown() error {
	if h.rdb == nil {
		return nil
	}
	return h.rdb.Close()
}
