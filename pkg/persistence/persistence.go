package persistence

import (
	"time"

	"github.com/pkg/errors"
)

var ErrPersistenceNotExists = errors.New("persistent data does not exist")

// PersistenceService hands out namespaced key/value stores for runtime
// state: subscription overrides, gate snapshots, anything operators may
// retune without a restart.
type PersistenceService interface {
	NewStore(id string, subIDs ...string) Store
}

type Store interface {
	Load(val interface{}) error
	Save(val interface{}) error
	Reset() error
}

// Expirable values carry their own redis TTL.
type Expirable interface {
	Expiration() time.Duration
}

type RedisConfig struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Password  string `json:"password,omitempty" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
}
