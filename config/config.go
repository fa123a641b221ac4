// Package config provides configuration loading and validation for the TSDS
// writer. Configuration is hydrated from Viper, which merges config files,
// environment variables, and command-line flags with the usual precedence
// rules.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// MongoConfig contains the connection settings for the document store.
type MongoConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// URI builds the MongoDB connection string for the read-write user.
func (c MongoConfig) URI() string {
	if c.User != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
}

// RedisConfig contains the connection settings for the lock service.
type RedisConfig struct {
	Host string
	Port int
}

// Addr returns the host:port address of the Redis server.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MemcacheConfig contains the connection settings for the key-value cache.
type MemcacheConfig struct {
	Host string
	Port int
}

// Addr returns the host:port address of the memcached server.
func (c MemcacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RabbitConfig contains the connection settings for the message broker.
type RabbitConfig struct {
	Host  string
	Port  int
	Queue string
}

// URL builds the AMQP connection URL.
func (c RabbitConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%d/", c.Host, c.Port)
}

// Config is the complete writer configuration.
type Config struct {
	Mongo    MongoConfig
	Redis    RedisConfig
	Memcache MemcacheConfig
	Rabbit   RabbitConfig

	// IgnoreDatabases lists database names the data-type registry must
	// never load.
	IgnoreDatabases []string
}

// Load hydrates a Config from the current Viper state.
func Load() (*Config, error) {
	cfg := &Config{
		Mongo: MongoConfig{
			Host:     viper.GetString("mongo.host"),
			Port:     viper.GetInt("mongo.port"),
			User:     viper.GetString("mongo.readwrite.user"),
			Password: viper.GetString("mongo.readwrite.password"),
		},
		Redis: RedisConfig{
			Host: viper.GetString("redis.host"),
			Port: viper.GetInt("redis.port"),
		},
		Memcache: MemcacheConfig{
			Host: viper.GetString("memcache.host"),
			Port: viper.GetInt("memcache.port"),
		},
		Rabbit: RabbitConfig{
			Host:  viper.GetString("rabbit.host"),
			Port:  viper.GetInt("rabbit.port"),
			Queue: viper.GetString("rabbit.queue"),
		},
		IgnoreDatabases: viper.GetStringSlice("ignore-databases.database"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required settings are present and sensible.
func (c *Config) Validate() error {
	v := NewValidator()

	v.RequireString("mongo.host", c.Mongo.Host)
	v.RequirePositiveInt("mongo.port", c.Mongo.Port)
	v.RequireString("redis.host", c.Redis.Host)
	v.RequirePositiveInt("redis.port", c.Redis.Port)
	v.RequireString("memcache.host", c.Memcache.Host)
	v.RequirePositiveInt("memcache.port", c.Memcache.Port)
	v.RequireString("rabbit.host", c.Rabbit.Host)
	v.RequirePositiveInt("rabbit.port", c.Rabbit.Port)
	v.RequireString("rabbit.queue", c.Rabbit.Queue)

	return v.Validate()
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
	}
	return nil
}
