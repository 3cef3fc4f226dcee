package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

var redisLogger = log.WithField("component", "persistence_redis")

type RedisService struct {
	redis  *redis.Client
	config *RedisConfig
}

func NewRedisService(config *RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisService{
		redis:  client,
		config: config,
	}
}

func (s *RedisService) NewStore(id string, subIDs ...string) Store {
	if len(subIDs) > 0 {
		id += ":" + strings.Join(subIDs, ":")
	}

	if s.config != nil && s.config.Namespace != "" {
		id = s.config.Namespace + ":" + id
	}

	return &RedisStore{
		redis: s.redis,
		ID:    id,
	}
}

type RedisStore struct {
	redis *redis.Client

	ID string
}

func (store *RedisStore) Load(val interface{}) error {
	data, err := store.redis.Get(context.Background(), store.ID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrPersistenceNotExists
		}

		return err
	}

	redisLogger.Debugf("loaded key %q (%d bytes)", store.ID, len(data))

	if len(data) == 0 || data == "null" {
		return ErrPersistenceNotExists
	}

	return json.Unmarshal([]byte(data), val)
}

func (store *RedisStore) Save(val interface{}) error {
	if val == nil {
		return nil
	}

	var expiration time.Duration
	if expiringData, ok := val.(Expirable); ok {
		expiration = expiringData.Expiration()
	}

	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	if err := store.redis.Set(context.Background(), store.ID, data, expiration).Err(); err != nil {
		return err
	}

	redisLogger.Debugf("stored key %q (%d bytes, ttl %s)", store.ID, len(data), expiration)
	return nil
}

func (store *RedisStore) Reset() error {
	_, err := store.redis.Del(context.Background(), store.ID).Result()
	return err
}
