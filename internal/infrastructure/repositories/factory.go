package repositories

import (
	"context"

	"teamdesk/internal/core/ports"
	"teamdesk/internal/infrastructure/distributed"
	"teamdesk/internal/infrastructure/repositories/memory"
	redisrepo "teamdesk/internal/infrastructure/repositories/redis"
	"teamdesk/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory wires the local routing table and, when Redis is
// reachable, the cluster-wide directory and event bus.
type RepositoryFactory struct {
	cfg         *config.Config
	instanceID  string
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory falls back to a single-instance relay when Redis is
// configured but unreachable.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, instanceID string, logger *zap.SugaredLogger) *RepositoryFactory {
	f := &RepositoryFactory{cfg: cfg, instanceID: instanceID, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, running as a single relay instance", "error", err)
		} else {
			f.redisClient = client
		}
	}

	if f.redisClient == nil {
		logger.Info("using in-memory room directory")
	}
	return f
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	return memory.NewMemoryRoomRepository()
}

// CreateRoomDirectory returns nil without Redis.
func (f *RepositoryFactory) CreateRoomDirectory() *distributed.RoomDirectory {
	if f.redisClient == nil {
		return nil
	}
	return distributed.NewRoomDirectory(f.redisClient, f.instanceID, f.cfg.Redis.MembershipTTL, f.logger)
}

// CreateEventBus returns nil without Redis.
func (f *RepositoryFactory) CreateEventBus() *distributed.EventBus {
	if f.redisClient == nil {
		return nil
	}
	return distributed.NewEventBus(f.redisClient, f.instanceID, f.cfg.Redis.Channel, f.logger)
}

func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
