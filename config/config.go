// Package config loads the aevent runtime configuration: an optional YAML
// file layered under AEVENT_* environment variables, with validated
// defaults for everything.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/fzft/go-async-event/event"
)

const (
	DefaultWorkers         = 3
	DefaultEventCenterSize = 4096
	DefaultListenBacklog   = 512
)

// Worker assignment policies for new connections.
const (
	AssignRoundRobin = "roundrobin"
	AssignRandom     = "random"
)

type Config struct {
	// Backend names the poll driver; empty picks the platform default.
	Backend string `mapstructure:"backend"`
	// Workers is the number of reactor threads, each with its own center.
	Workers int `mapstructure:"workers"`
	// EventCenterSize is the initial descriptor table capacity per center.
	EventCenterSize int `mapstructure:"event_center_size"`
	// Assign picks how new connections spread across workers.
	Assign string `mapstructure:"assign"`

	TCPNoDelay    bool `mapstructure:"tcp_nodelay"`
	TCPRcvbuf     int  `mapstructure:"tcp_rcvbuf"`
	ListenBacklog int  `mapstructure:"listen_backlog"`

	// MetricsAddr exposes prometheus over HTTP when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
	Debug       bool   `mapstructure:"debug"`
}

func Default() *Config {
	return &Config{
		Backend:         "",
		Workers:         DefaultWorkers,
		EventCenterSize: DefaultEventCenterSize,
		Assign:          AssignRoundRobin,
		TCPNoDelay:      true,
		TCPRcvbuf:       0,
		ListenBacklog:   DefaultListenBacklog,
		MetricsAddr:     "",
		Debug:           false,
	}
}

// Load reads configuration from path, or when path is empty from
// aevent.yaml in the working directory, $HOME/.aevent or /etc/aevent. A
// missing default file is fine; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aevent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.aevent")
		v.AddConfigPath("/etc/aevent")
	}
	v.SetEnvPrefix("AEVENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound || path != "" {
			return nil, errors.Wrap(err, "config: read")
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 || c.Workers > event.MaxEventCenters {
		return errors.Errorf("config: workers must be in [1,%d], got %d",
			event.MaxEventCenters, c.Workers)
	}
	if c.EventCenterSize < 1 {
		return errors.Errorf("config: event_center_size must be positive, got %d", c.EventCenterSize)
	}
	switch c.Assign {
	case AssignRoundRobin, AssignRandom:
	default:
		return errors.Errorf("config: unknown assign policy %q", c.Assign)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("backend", def.Backend)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("event_center_size", def.EventCenterSize)
	v.SetDefault("assign", def.Assign)
	v.SetDefault("tcp_nodelay", def.TCPNoDelay)
	v.SetDefault("tcp_rcvbuf", def.TCPRcvbuf)
	v.SetDefault("listen_backlog", def.ListenBacklog)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("debug", def.Debug)
}
