package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML layout. Durations are strings in time.ParseDuration
// syntax; zero values mean "not set".
type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	Mode              string   `toml:"mode"`
	LogFormat         string   `toml:"log_format"`
	LogLevel          string   `toml:"log_level"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	ShutdownGrace     string   `toml:"shutdown_grace"`
	StatusLogInterval string   `toml:"status_log_interval"`

	Signaling struct {
		IdleTimeout          string `toml:"idle_timeout"`
		PingInterval         string `toml:"ping_interval"`
		WriteWait            string `toml:"write_wait"`
		SendQueueSize        int    `toml:"send_queue_size"`
		MaxMessageBytes      int64  `toml:"max_message_bytes"`
		MaxMessagesPerSecond int    `toml:"max_messages_per_second"`
		MaxRelayPayloadBytes int    `toml:"max_relay_payload_bytes"`
	} `toml:"signaling"`

	Database struct {
		URL                string `toml:"url"`
		MirrorQueueSize    int    `toml:"mirror_queue_size"`
		MirrorWriteTimeout string `toml:"mirror_write_timeout"`
	} `toml:"database"`
}

// readFile decodes the TOML file at path into values keyed by the environment
// variable each setting corresponds to.
func readFile(path string) (map[string]string, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("read config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	values := map[string]string{}
	setString := func(key, v string) {
		if v != "" {
			values[key] = v
		}
	}
	setInt := func(key string, v int64) {
		if v != 0 {
			values[key] = strconv.FormatInt(v, 10)
		}
	}

	setString(envVarListenAddr, fc.ListenAddr)
	setString(envVarMode, fc.Mode)
	setString(envVarLogFormat, fc.LogFormat)
	setString(envVarLogLevel, fc.LogLevel)
	setString(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	setString(envVarShutdownTimeout, fc.ShutdownTimeout)
	setString(envVarShutdownGrace, fc.ShutdownGrace)
	setString(envVarStatusInterval, fc.StatusLogInterval)

	setString(envVarSignalingWSIdleTimeout, fc.Signaling.IdleTimeout)
	setString(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	setString(envVarSignalingWSWriteWait, fc.Signaling.WriteWait)
	setInt(envVarSignalingSendQueueSize, int64(fc.Signaling.SendQueueSize))
	setInt(envVarMaxSignalingMessageBytes, fc.Signaling.MaxMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, int64(fc.Signaling.MaxMessagesPerSecond))
	setInt(envVarMaxRelayPayloadBytes, int64(fc.Signaling.MaxRelayPayloadBytes))

	setString(envVarDatabaseURL, fc.Database.URL)
	setInt(envVarMirrorQueueSize, int64(fc.Database.MirrorQueueSize))
	setString(envVarMirrorWriteTimeout, fc.Database.MirrorWriteTimeout)
	return values, nil
}

// layered consults the environment first and falls back to file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
