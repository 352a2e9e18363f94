// internal/config/config.go

// Package config loads service tuning from an optional config file plus
// environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// App holds the tunable knobs for the server and worker binaries.
// Transport credentials are not here: they arrive per campaign through the
// configuration API and are verified before use.
type App struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	AMQPURL        string        `mapstructure:"amqp_url"`
	Workers        int           `mapstructure:"workers"`
	Retries        int           `mapstructure:"retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Load reads config.yaml from the working directory when present, applies
// environment overrides (e.g. MAILMERGE_WORKERS), and returns the result.
func Load() (*App, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("amqp_url", "")
	v.SetDefault("workers", 3)
	v.SetDefault("retries", 3)
	v.SetDefault("backoff_base", 5*time.Second)
	v.SetDefault("connect_timeout", 10*time.Second)

	v.SetEnvPrefix("mailmerge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var app App
	if err := v.Unmarshal(&app); err != nil {
		return nil, err
	}
	return &app, nil
}
