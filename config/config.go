/*
Config package
*/
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a viper instance owned by the process, never the package-level one.
type Config struct {
	viper *viper.Viper
}

// Option configures New.
type Option func(*options)

type options struct {
	log  Logger
	path string
	name string
}

// WithLogger reports a missing .env file through log.
func WithLogger(log Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPath changes the directory searched for the dotenv file.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// New - read .env and ENV variables
func New(opts ...Option) (*Config, error) {
	o := options{path: ".", name: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	v.SetConfigName(o.name)
	v.SetConfigType("dotenv")
	v.AddConfigPath(o.path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var typeErr viper.ConfigFileNotFoundError
		if !errors.As(err, &typeErr) {
			return nil, err
		}

		if o.log != nil {
			o.log.Warn("The .env file has not been found in the current directory")
		}
	}

	return &Config{viper: v}, nil
}

// Reset drops every value and default, keeping env binding enabled.
func (c *Config) Reset() {
	c.viper = viper.New()
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()
}

// Accessors below proxy to the owned viper instance.

func (c *Config) Set(key string, value any) {
	c.viper.Set(key, value)
}

func (c *Config) SetDefault(key string, value any) {
	c.viper.SetDefault(key, value)
}

func (c *Config) IsSet(key string) bool {
	return c.viper.IsSet(key)
}

func (c *Config) GetString(key string) string {
	return c.viper.GetString(key)
}

func (c *Config) GetStringSlice(key string) []string {
	return c.viper.GetStringSlice(key)
}

func (c *Config) GetInt(key string) int {
	return c.viper.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.viper.GetBool(key)
}

func (c *Config) GetFloat64(key string) float64 {
	return c.viper.GetFloat64(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	return c.viper.GetDuration(key)
}

func (c *Config) GetStringMap(key string) map[string]any {
	return c.viper.GetStringMap(key)
}
