package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bulwark-io/bulwark/pkg/config"
	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/logging"
)

const (
	instanceKeyPrefix = "bulwark:instances:"
	instanceIndexKey  = "bulwark:instances"
	targetCountKey    = "bulwark:target_instances"
)

// RedisRegistry is an InstanceRegistry backed by Redis. Each instance
// holds a TTL'd key refreshed by its heartbeat; instances whose key has
// expired no longer count as active.
type RedisRegistry struct {
	client       *redis.Client
	heartbeatTTL time.Duration
	logger       *logging.Logger

	mutex    sync.Mutex
	stopped  bool
	stopChan chan struct{}
}

// NewRedisRegistry connects to Redis and returns a registry. The
// heartbeat TTL bounds how long a crashed instance stays visible.
func NewRedisRegistry(cfg *config.RedisConfig, heartbeatTTL time.Duration) (*RedisRegistry, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}
	if heartbeatTTL <= 0 {
		heartbeatTTL = 30 * time.Second
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisRegistry{
		client:       client,
		heartbeatTTL: heartbeatTTL,
		logger:       logging.GetLogger(),
		stopChan:     make(chan struct{}),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *RedisRegistry) Client() *redis.Client {
	return r.client
}

// Close stops the heartbeat loop and closes the connection.
func (r *RedisRegistry) Close() error {
	r.mutex.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopChan)
	}
	r.mutex.Unlock()
	return r.client.Close()
}

// Register announces an instance and adds it to the index.
func (r *RedisRegistry) Register(ctx context.Context, instance Instance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return errors.NewInternalError("failed to encode instance").WithCause(err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, instanceKeyPrefix+instance.ID, payload, r.heartbeatTTL)
	pipe.SAdd(ctx, instanceIndexKey, instance.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewInternalError("failed to register instance").WithCause(err)
	}

	r.logger.Info("Instance registered",
		"instance_id", instance.ID,
		"hostname", instance.Hostname,
	)
	return nil
}

// Deregister removes an instance immediately.
func (r *RedisRegistry) Deregister(ctx context.Context, instanceID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, instanceKeyPrefix+instanceID)
	pipe.SRem(ctx, instanceIndexKey, instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewInternalError("failed to deregister instance").WithCause(err)
	}

	r.logger.Info("Instance deregistered", "instance_id", instanceID)
	return nil
}

// Heartbeat refreshes the TTL on the instance key.
func (r *RedisRegistry) Heartbeat(ctx context.Context, instanceID string) error {
	ok, err := r.client.Expire(ctx, instanceKeyPrefix+instanceID, r.heartbeatTTL).Result()
	if err != nil {
		return errors.NewInternalError("heartbeat failed").WithCause(err)
	}
	if !ok {
		// Key expired; the instance fell out of the registry and
		// must re-register.
		return errors.NewNotFoundError("instance")
	}
	return nil
}

// ActiveInstanceCount counts index members whose key is still live,
// pruning members whose TTL lapsed.
func (r *RedisRegistry) ActiveInstanceCount(ctx context.Context) (int, error) {
	ids, err := r.client.SMembers(ctx, instanceIndexKey).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to list instances").WithCause(err)
	}

	active := 0
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, instanceKeyPrefix+id).Result()
		if err != nil {
			return 0, errors.NewInternalError("failed to check instance liveness").WithCause(err)
		}
		if exists > 0 {
			active++
			continue
		}
		if err := r.client.SRem(ctx, instanceIndexKey, id).Err(); err != nil {
			r.logger.Warn("Failed to prune stale instance", "instance_id", id, "error", err)
		}
	}

	return active, nil
}

// ApplyTargetInstanceCount publishes the desired instance count for the
// external provisioner to reconcile against.
func (r *RedisRegistry) ApplyTargetInstanceCount(ctx context.Context, target int) error {
	if err := r.client.Set(ctx, targetCountKey, target, 0).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to publish target instance count").WithCause(err)
	}
	return nil
}

// TargetInstanceCount reads the last published desired count.
func (r *RedisRegistry) TargetInstanceCount(ctx context.Context) (int, error) {
	val, err := r.client.Get(ctx, targetCountKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, errors.NewNotFoundError("target instance count")
		}
		return 0, errors.NewInternalError("failed to read target instance count").WithCause(err)
	}

	target, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.NewInternalError("malformed target instance count").WithCause(err)
	}
	return target, nil
}

// StartHeartbeat refreshes the instance's registration until the
// context is cancelled or the registry is closed.
func (r *RedisRegistry) StartHeartbeat(ctx context.Context, instanceID string, interval time.Duration) {
	if interval <= 0 {
		interval = r.heartbeatTTL / 3
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Heartbeat(ctx, instanceID); err != nil {
				r.logger.Warn("Heartbeat failed", "instance_id", instanceID, "error", err)
			}
		}
	}
}
