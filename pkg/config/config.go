package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the hot-reloadable key/value configuration surface. Components
// read through the get-with-default accessors; a config file change is
// picked up in place without a restart.
type Config struct {
	mu sync.RWMutex
	v  *viper.Viper
}

func New() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// Load reads the given config file and starts watching it for changes.
func Load(path string) (*Config, error) {
	c := New()

	if path == "" {
		return c, nil
	}

	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return nil, err
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("config file %s changed, settings reloaded", e.Name)
	})
	c.v.WatchConfig()

	return c, nil
}

func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
}

func (c *Config) StringDefault(key, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetString(key)
}

func (c *Config) IntDefault(key string, def int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetInt(key)
}

func (c *Config) FloatDefault(key string, def float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetFloat64(key)
}

func (c *Config) BoolDefault(key string, def bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetBool(key)
}

func (c *Config) DurationDefault(key string, def time.Duration) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetDuration(key)
}

func (c *Config) StringsDefault(key string, def []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetStringSlice(key)
}
