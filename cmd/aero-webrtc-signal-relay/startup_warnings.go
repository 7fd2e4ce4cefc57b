package main

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any site can open signaling connections)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	// A single relayed payload is buffered per recipient send queue.
	if cfg.MaxRelayPayloadBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_RELAY_PAYLOAD_BYTES is very large (increases per-connection memory held by send queues)",
			"warning_code", "relay_payload_large",
			"max_relay_payload_bytes", cfg.MaxRelayPayloadBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.DatabaseURL == "" {
		logger.Warn("startup warning: DATABASE_URL is unset while --mode=prod (room history is kept in memory only)",
			"warning_code", "database_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.DatabaseURL != "" {
		if u, err := url.Parse(strings.TrimSpace(cfg.DatabaseURL)); err == nil && u.Query().Get("sslmode") == "disable" && cfg.Mode == config.ModeProd {
			logger.Warn("startup security warning: DATABASE_URL disables TLS while --mode=prod",
				"warning_code", "database_sslmode_disable_in_prod",
				"database_host", safeURLHost(cfg.DatabaseURL),
				"mode", cfg.Mode,
			)
		}
	}
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
