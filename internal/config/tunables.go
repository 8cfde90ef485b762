package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"sidelb/internal/logging"
)

// Tunables are the operational knobs spec.md names concrete default values
// for, kept separate from the backend set so hot-reloading them never
// touches the registry (see package doc).
type Tunables struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthProbeTimeout  time.Duration `mapstructure:"health_probe_timeout"`
	DynamicInterval     time.Duration `mapstructure:"dynamic_resolve_interval"`
	DatagramRecvTimeout time.Duration `mapstructure:"datagram_recv_timeout"`
	ControlSocketPath   string        `mapstructure:"control_socket_path"`
}

// DefaultTunables returns the fixed values spec.md §4/§6 name when no
// tunables file is given.
func DefaultTunables() Tunables {
	return Tunables{
		HealthCheckInterval: 10 * time.Second,
		HealthProbeTimeout:  1 * time.Second,
		DynamicInterval:     60 * time.Second,
		DatagramRecvTimeout: 5 * time.Second,
		ControlSocketPath:   "/run/sidelb.sock",
	}
}

// LoadTunables reads path if it exists, overlaying DefaultTunables with
// whatever keys it sets. A missing path is not an error — the defaults
// apply and v is still returned so the caller can Watch it once the file
// is created later. Any other read/parse error is returned.
func LoadTunables(path string) (Tunables, *viper.Viper, error) {
	v := newTunablesViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Tunables{}, nil, fmt.Errorf("config: reading tunables %q: %w", path, err)
		}
	}

	t, err := unmarshalTunables(v)
	if err != nil {
		return Tunables{}, nil, err
	}
	return t, v, nil
}

// WatchTunables fires onChange with a freshly parsed Tunables whenever the
// underlying file changes. A reload that fails to parse is logged and
// skipped; the previous tunables stay in effect.
func WatchTunables(v *viper.Viper, onChange func(Tunables)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		t, err := unmarshalTunables(v)
		if err != nil {
			logging.Errorf("config: tunables hot-reload failed: %v", err)
			return
		}
		logging.Infof("config: tunables hot-reloaded")
		onChange(t)
	})
}

func newTunablesViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	def := DefaultTunables()
	v.SetDefault("health_check_interval", def.HealthCheckInterval.String())
	v.SetDefault("health_probe_timeout", def.HealthProbeTimeout.String())
	v.SetDefault("dynamic_resolve_interval", def.DynamicInterval.String())
	v.SetDefault("datagram_recv_timeout", def.DatagramRecvTimeout.String())
	v.SetDefault("control_socket_path", def.ControlSocketPath)

	return v
}

func unmarshalTunables(v *viper.Viper) (Tunables, error) {
	var t Tunables
	t.ControlSocketPath = v.GetString("control_socket_path")

	durations := map[string]*time.Duration{
		"health_check_interval":   &t.HealthCheckInterval,
		"health_probe_timeout":    &t.HealthProbeTimeout,
		"dynamic_resolve_interval": &t.DynamicInterval,
		"datagram_recv_timeout":   &t.DatagramRecvTimeout,
	}
	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Tunables{}, fmt.Errorf("config: tunables key %q: %w", key, err)
		}
		*dst = d
	}
	return t, nil
}
