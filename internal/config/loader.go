package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads defaults, then path when it is not empty, then environment
// overrides. Validation is left to the binary, which knows its role.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = strings.Split(v, ",")
		}
	}

	str("YACALL_ENV", &cfg.App.Env)
	str("YACALL_LOG_LEVEL", &cfg.App.LogLevel)

	str("YACALL_SERVER_ADDR", &cfg.Server.Addr)
	num("YACALL_SIGNAL_RATE", &cfg.Server.SignalRate)
	list("YACALL_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	str("YACALL_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("YACALL_JWT_ISSUER", &cfg.Auth.JWTIssuer)
	str("YACALL_JWT_AUDIENCE", &cfg.Auth.JWTAudience)
	dur("YACALL_TOKEN_TTL", &cfg.Auth.TokenTTL)

	str("YACALL_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("YACALL_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("YACALL_REDIS_ADDR", &cfg.Storage.RedisAddr)
	str("YACALL_REDIS_PASSWORD", &cfg.Storage.RedisPassword)

	str("YACALL_SERVER_URL", &cfg.Client.ServerURL)
	str("YACALL_USER_ID", &cfg.Client.UserID)
	str("YACALL_TOKEN", &cfg.Client.Token)
	dur("YACALL_INCOMING_RING_TIMEOUT", &cfg.Client.IncomingRingTimeout)
	dur("YACALL_OUTGOING_RING_TIMEOUT", &cfg.Client.OutgoingRingTimeout)
	dur("YACALL_NEGOTIATION_TIMEOUT", &cfg.Client.NegotiationTimeout)
	dur("YACALL_ENDED_HOLD", &cfg.Client.EndedHold)
	flag("YACALL_NOTIFY_INCOMING", &cfg.Client.NotifyIncoming)
	str("YACALL_DEBUG_ADDR", &cfg.Client.DebugAddr)

	list("YACALL_ICE_SERVERS", &cfg.Media.ICEServers)

	return joinErrors(errs)
}
