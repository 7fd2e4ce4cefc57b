package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.ShutdownGrace != DefaultShutdownGrace {
		t.Fatalf("ShutdownGrace=%v, want %v", cfg.ShutdownGrace, DefaultShutdownGrace)
	}
	if cfg.StatusLogInterval != DefaultStatusLogInterval {
		t.Fatalf("StatusLogInterval=%v, want %v", cfg.StatusLogInterval, DefaultStatusLogInterval)
	}
	if cfg.MaxRelayPayloadBytes != 100000 {
		t.Fatalf("MaxRelayPayloadBytes=%d, want 100000", cfg.MaxRelayPayloadBytes)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL=%q, want empty", cfg.DatabaseURL)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestLegacyEnvNames(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPort:        "3001",
		envVarClientURL:   "http://localhost:3000",
		envVarDatabaseURL: "postgres://relay@localhost/relay",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":3001" {
		t.Fatalf("ListenAddr=%q, want :3001", cfg.ListenAddr)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://localhost:3000"}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.DatabaseURL != "postgres://relay@localhost/relay" {
		t.Fatalf("DatabaseURL=%q", cfg.DatabaseURL)
	}
}

func TestAllowedOriginsTakesPrecedenceOverClientURL(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarClientURL:      "http://localhost:3000",
		envVarAllowedOrigins: "https://A.example.com:443, *",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://a.example.com", "*"}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
}

func TestParseAllowedOrigins_RejectsPathQueryAndCredentials(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/app",
		"https://example.com?x=1",
		"https://user@example.com",
		"example.com",
	} {
		if _, err := parseAllowedOrigins(raw); err == nil {
			t.Fatalf("parseAllowedOrigins(%q) succeeded, want error", raw)
		}
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMaxSignalingMessagesPerSecond: "10",
		envVarShutdownGrace:                 "5s",
	}), []string{"--max-signaling-messages-per-second=20"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSignalingMessagesPerSecond != 20 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want 20", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.ShutdownGrace != 5*time.Second {
		t.Fatalf("ShutdownGrace=%v, want 5s", cfg.ShutdownGrace)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []map[string]string{
		{envVarShutdownGrace: "soon"},
		{envVarMirrorQueueSize: "many"},
		{envVarMode: "staging"},
		{envVarLogLevel: "loud"},
		{envVarSignalingWSPingInterval: "2m"},
		{envVarMaxRelayPayloadBytes: "0"},
		{envVarMaxSignalingMessageBytes: "1000"},
		{envVarSignalingSendQueueSize: "0"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("load(%v) succeeded, want error", env)
		}
	}
}

func TestSignalingFrameLeavesRoomForEnvelope(t *testing.T) {
	cases := []struct {
		messageBytes string
		wantErr      bool
	}{
		{"100001", true},
		{"104095", true},
		{"104096", false},
	}
	for _, tc := range cases {
		_, err := load(lookupMap(map[string]string{
			envVarMaxRelayPayloadBytes:     "100000",
			envVarMaxSignalingMessageBytes: tc.messageBytes,
		}), nil)
		if (err != nil) != tc.wantErr {
			t.Fatalf("message bytes %s: err=%v, wantErr=%v", tc.messageBytes, err, tc.wantErr)
		}
	}
}

func TestConfigFileLayering(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr = "0.0.0.0:9000"
allowed_origins = ["http://localhost:3000", "https://app.example.com"]
shutdown_grace = "3s"

[signaling]
max_messages_per_second = 7
ping_interval = "10s"

[database]
url = "postgres://file@localhost/relay"
mirror_queue_size = 16
`)

	env := map[string]string{
		envVarDatabaseURL: "postgres://env@localhost/relay",
	}
	cfg, err := load(lookupMap(env), []string{"--config", path, "--shutdown-grace", "4s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile=%q, want %q", cfg.ConfigFile, path)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr=%q, want file value", cfg.ListenAddr)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://localhost:3000", "https://app.example.com"}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxSignalingMessagesPerSecond != 7 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want 7", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSPingInterval != 10*time.Second {
		t.Fatalf("SignalingWSPingInterval=%v, want 10s", cfg.SignalingWSPingInterval)
	}
	if cfg.MirrorQueueSize != 16 {
		t.Fatalf("MirrorQueueSize=%d, want 16", cfg.MirrorQueueSize)
	}
	if cfg.DatabaseURL != "postgres://env@localhost/relay" {
		t.Fatalf("DatabaseURL=%q, want env to win over file", cfg.DatabaseURL)
	}
	if cfg.ShutdownGrace != 4*time.Second {
		t.Fatalf("ShutdownGrace=%v, want flag to win", cfg.ShutdownGrace)
	}
}

func TestConfigFileFromEnv(t *testing.T) {
	path := writeConfigFile(t, "mode = \"prod\"\n")
	cfg, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("mode=%q format=%q, want prod/json", cfg.Mode, cfg.LogFormat)
	}
}

func TestConfigFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "listen_adr = \"x\"\n")
	_, err := load(noEnv, []string{"-config=" + path})
	if err == nil || !strings.Contains(err.Error(), "listen_adr") {
		t.Fatalf("err=%v, want unknown key error", err)
	}
}

func TestConfigFileMissing(t *testing.T) {
	if _, err := load(noEnv, []string{"--config", filepath.Join(t.TempDir(), "absent.toml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigFlagValue(t *testing.T) {
	cases := []struct {
		args []string
		want string
		ok   bool
	}{
		{[]string{"--config", "a.toml"}, "a.toml", true},
		{[]string{"-config=b.toml"}, "b.toml", true},
		{[]string{"--mode", "prod"}, "", false},
		{[]string{"--", "--config", "c.toml"}, "", false},
		{[]string{"--config"}, "", false},
	}
	for _, tc := range cases {
		got, ok := configFlagValue(tc.args)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("configFlagValue(%v)=(%q, %v), want (%q, %v)", tc.args, got, ok, tc.want, tc.ok)
		}
	}
}
