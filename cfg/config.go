package cfg

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/akitasoftware/pcaptrack/conntrack"
)

// Settings can be set in 2 ways, in order of precedence:
//
//  1. Command-line flags, bound by the individual commands in cmd/internal.
//  2. A YAML file at $HOME/.pcaptrack/config.yaml:
//
//     ```yaml
//     interface: eth0
//     bpf_filter: tcp
//     idle_timeout: 5m
//     byte_bound: 1048576
//     ```
var settings = viper.New()

const configFileName = "config"

func init() {
	settings.SetConfigName(configFileName)
	settings.SetConfigType("yaml")
	settings.AddConfigPath(Dir())

	settings.SetDefault("interface", "any")
	settings.SetDefault("bpf_filter", "tcp")
	settings.SetDefault("idle_timeout", conntrack.DefaultManagerIdleTimeout)
	settings.SetDefault("byte_bound", 4*1024*1024)
	settings.SetDefault("status_addr", "")

	// Missing file is fine; defaults above apply.
	_ = settings.ReadInConfig()
}

func ConfigFilePath() string {
	return filepath.Join(Dir(), configFileName+".yaml")
}

func DefaultInterface() string { return settings.GetString("interface") }

func DefaultBPFFilter() string { return settings.GetString("bpf_filter") }

func DefaultIdleTimeout() time.Duration { return settings.GetDuration("idle_timeout") }

func DefaultByteBound() int { return settings.GetInt("byte_bound") }

func DefaultStatusAddr() string { return settings.GetString("status_addr") }
