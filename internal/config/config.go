package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
)

const (
	envVarConfigFile      = "AERO_WEBRTC_SIGNAL_RELAY_CONFIG"
	envVarListenAddr      = "AERO_WEBRTC_SIGNAL_RELAY_LISTEN_ADDR"
	envVarLogFormat       = "AERO_WEBRTC_SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_SIGNAL_RELAY_SHUTDOWN_TIMEOUT"
	envVarShutdownGrace   = "AERO_WEBRTC_SIGNAL_RELAY_SHUTDOWN_GRACE"
	envVarStatusInterval  = "AERO_WEBRTC_SIGNAL_RELAY_STATUS_LOG_INTERVAL"
	envVarMode            = "AERO_WEBRTC_SIGNAL_RELAY_MODE"

	// Names shared with the Node deployment this relay replaces.
	envVarPort           = "PORT"
	envVarClientURL      = "CLIENT_URL"
	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarDatabaseURL    = "DATABASE_URL"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarSignalingWSWriteWait          = "SIGNALING_WS_WRITE_WAIT"
	envVarSignalingSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxRelayPayloadBytes          = "MAX_RELAY_PAYLOAD_BYTES"

	// Persistence mirror.
	envVarMirrorQueueSize    = "MIRROR_QUEUE_SIZE"
	envVarMirrorWriteTimeout = "MIRROR_WRITE_TIMEOUT"

	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultShutdownGrace        = 2 * time.Second
	DefaultStatusLogInterval    = time.Minute
	DefaultMode            Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultSignalingWSWriteWait          = 10 * time.Second
	DefaultSignalingSendQueueSize        = 64
	DefaultMaxSignalingMessageBytes      = int64(256 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultMaxRelayPayloadBytes          = 100_000

	// SignalingEnvelopeOverheadBytes is the headroom a signaling frame needs
	// around a relay payload of the maximum size (type, id, target).
	SignalingEnvelopeOverheadBytes = 4 * 1024

	DefaultMirrorQueueSize    = 1024
	DefaultMirrorWriteTimeout = 5 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr string
	Mode       Mode
	LogFormat  LogFormat
	LogLevel   slog.Level

	// AllowedOrigins holds normalized origins or "*". Empty means same-host
	// only.
	AllowedOrigins []string

	ShutdownTimeout time.Duration
	// ShutdownGrace is how long clients get between the server-shutdown
	// notice and the connections being closed.
	ShutdownGrace time.Duration
	// StatusLogInterval is the period of the connection/room status log line.
	// Zero disables it.
	StatusLogInterval time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	SignalingWSWriteWait          time.Duration
	SignalingSendQueueSize        int
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	MaxRelayPayloadBytes          int

	// DatabaseURL selects the PostgreSQL store. Empty keeps rooms in memory.
	DatabaseURL        string
	MirrorQueueSize    int
	MirrorWriteTimeout time.Duration

	// ConfigFile is the TOML file the values were layered on, if any.
	ConfigFile string
}

// Load reads configuration from, in increasing precedence: defaults, an
// optional TOML file, the environment, and command-line flags.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := envOrDefault(lookup, envVarConfigFile, "")
	if path, ok := configFlagValue(args); ok {
		configFile = path
	}
	if configFile != "" {
		fileValues, err := readFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layered(lookup, fileValues)
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := DefaultListenAddr
	if port := envOrDefault(lookup, envVarPort, ""); port != "" {
		listenAddr = ":" + strings.TrimSpace(port)
	}
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, envOrDefault(lookup, envVarClientURL, ""))
	databaseURL := envOrDefault(lookup, envVarDatabaseURL, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	shutdownGrace, err := envDurationOrDefault(lookup, envVarShutdownGrace, DefaultShutdownGrace)
	if err != nil {
		return Config{}, err
	}
	statusLogInterval, err := envDurationOrDefault(lookup, envVarStatusInterval, DefaultStatusLogInterval)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	wsWriteWait, err := envDurationOrDefault(lookup, envVarSignalingWSWriteWait, DefaultSignalingWSWriteWait)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSignalingSendQueueSize, DefaultSignalingSendQueueSize)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxRelayPayloadBytes, err := envIntOrDefault(lookup, envVarMaxRelayPayloadBytes, DefaultMaxRelayPayloadBytes)
	if err != nil {
		return Config{}, err
	}
	mirrorQueueSize, err := envIntOrDefault(lookup, envVarMirrorQueueSize, DefaultMirrorQueueSize)
	if err != nil {
		return Config{}, err
	}
	mirrorWriteTimeout, err := envDurationOrDefault(lookup, envVarMirrorWriteTimeout, DefaultMirrorWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-signal-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, "config", configFile, "Optional TOML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+" or "+envVarClientURL+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", shutdownGrace, "Delay between the shutdown notice and closing client connections")
	fs.DurationVar(&statusLogInterval, "status-log-interval", statusLogInterval, "Interval of the status log line (0 = disabled)")

	fs.DurationVar(&wsIdleTimeout, "signaling-ws-idle-timeout", wsIdleTimeout, "Close signaling WebSockets without any inbound traffic for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "signaling-ws-ping-interval", wsPingInterval, "Ping interval for signaling WebSockets (env "+envVarSignalingWSPingInterval+")")
	fs.DurationVar(&wsWriteWait, "signaling-ws-write-wait", wsWriteWait, "Per-write deadline for signaling WebSockets (env "+envVarSignalingWSWriteWait+")")
	fs.IntVar(&sendQueueSize, "signaling-send-queue-size", sendQueueSize, "Outbound messages buffered per client before it is disconnected (env "+envVarSignalingSendQueueSize+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per client (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&maxRelayPayloadBytes, "max-relay-payload-bytes", maxRelayPayloadBytes, "Max offer/answer/candidate payload size in bytes (env "+envVarMaxRelayPayloadBytes+")")

	fs.StringVar(&databaseURL, "database-url", databaseURL, "PostgreSQL URL for the room history mirror (empty = in-memory; env "+envVarDatabaseURL+")")
	fs.IntVar(&mirrorQueueSize, "mirror-queue-size", mirrorQueueSize, "Pending room history writes before new ones are dropped (env "+envVarMirrorQueueSize+")")
	fs.DurationVar(&mirrorWriteTimeout, "mirror-write-timeout", mirrorWriteTimeout, "Timeout of a single room history write (env "+envVarMirrorWriteTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// If mode was set explicitly and format/level were not, derive them from the
	// mode that actually applies.
	if !envLogFormatSet && !flagWasSet(fs, "log-format") {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !flagWasSet(fs, "log-level") {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:        strings.TrimSpace(listenAddr),
		Mode:              mode,
		LogFormat:         logFormat,
		LogLevel:          level,
		AllowedOrigins:    allowedOrigins,
		ShutdownTimeout:   shutdownTimeout,
		ShutdownGrace:     shutdownGrace,
		StatusLogInterval: statusLogInterval,

		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		SignalingWSWriteWait:          wsWriteWait,
		SignalingSendQueueSize:        sendQueueSize,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		MaxRelayPayloadBytes:          maxRelayPayloadBytes,

		DatabaseURL:        strings.TrimSpace(databaseURL),
		MirrorQueueSize:    mirrorQueueSize,
		MirrorWriteTimeout: mirrorWriteTimeout,

		ConfigFile: configFile,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be > 0")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must be >= 0")
	}
	if c.StatusLogInterval < 0 {
		return fmt.Errorf("status log interval must be >= 0")
	}
	if c.SignalingWSIdleTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if c.SignalingWSPingInterval <= 0 || c.SignalingWSPingInterval >= c.SignalingWSIdleTimeout {
		return fmt.Errorf("%s must be > 0 and less than %s", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if c.SignalingWSWriteWait <= 0 {
		return fmt.Errorf("%s must be > 0", envVarSignalingWSWriteWait)
	}
	if c.SignalingSendQueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", envVarSignalingSendQueueSize)
	}
	if c.MaxSignalingMessagesPerSecond < 0 {
		return fmt.Errorf("%s must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}
	if c.MaxRelayPayloadBytes <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxRelayPayloadBytes)
	}
	if c.MaxSignalingMessageBytes < int64(c.MaxRelayPayloadBytes)+SignalingEnvelopeOverheadBytes {
		return fmt.Errorf("%s (%d) must be at least %s (%d) + %d bytes of envelope", envVarMaxSignalingMessageBytes, c.MaxSignalingMessageBytes, envVarMaxRelayPayloadBytes, c.MaxRelayPayloadBytes, SignalingEnvelopeOverheadBytes)
	}
	if c.MirrorQueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMirrorQueueSize)
	}
	if c.MirrorWriteTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMirrorWriteTimeout)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// configFlagValue finds -config/--config in args before the flag set is
// built, since the file supplies the flag defaults.
func configFlagValue(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value, true
		}
		if i+1 < len(args) {
			return args[i+1], true
		}
		return "", false
	}
	return "", false
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
