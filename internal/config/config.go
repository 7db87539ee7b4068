// Package config loads the server and client settings: defaults, then an
// optional TOML file, then YACALL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	App     AppConfig                `toml:"app"`
	Server  ServerConfig             `toml:"server"`
	Auth    AuthConfig               `toml:"auth"`
	Storage StorageConfig            `toml:"storage"`
	Client  ClientConfig             `toml:"client"`
	Quality domain.QualityThresholds `toml:"quality"`
	Media   MediaConfig              `toml:"media"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	WSReadBuffer    int           `toml:"ws_read_buffer"`
	WSWriteBuffer   int           `toml:"ws_write_buffer"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	// SignalRate is the number of frames a socket may send per minute.
	SignalRate int `toml:"signal_rate"`
}

type AuthConfig struct {
	JWTSecret   string        `toml:"jwt_secret"`
	JWTIssuer   string        `toml:"jwt_issuer"`
	JWTAudience string        `toml:"jwt_audience"`
	TokenTTL    time.Duration `toml:"token_ttl"`
}

type StorageConfig struct {
	Driver        string        `toml:"driver"`
	PostgresDSN   string        `toml:"postgres_dsn"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	BusyTTL       time.Duration `toml:"busy_ttl"`
}

type ClientConfig struct {
	ServerURL           string        `toml:"server_url"`
	UserID              string        `toml:"user_id"`
	Token               string        `toml:"token"`
	IncomingRingTimeout time.Duration `toml:"incoming_ring_timeout"`
	OutgoingRingTimeout time.Duration `toml:"outgoing_ring_timeout"`
	NegotiationTimeout  time.Duration `toml:"negotiation_timeout"`
	EndedHold           time.Duration `toml:"ended_hold"`
	QualityInterval     time.Duration `toml:"quality_interval"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	ReconnectMin        time.Duration `toml:"reconnect_min"`
	ReconnectMax        time.Duration `toml:"reconnect_max"`
	NotifyIncoming      bool          `toml:"notify_incoming"`
	DebugAddr           string        `toml:"debug_addr"`
}

type MediaConfig struct {
	ICEServers []string `toml:"ice_servers"`
	AllowAudio bool     `toml:"allow_audio"`
	AllowVideo bool     `toml:"allow_video"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			WSReadBuffer:    1024,
			WSWriteBuffer:   1024,
			SignalRate:      50,
		},
		Auth: AuthConfig{
			JWTIssuer: "yacall",
			TokenTTL:  24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver:  "memory",
			BusyTTL: 2 * time.Hour,
		},
		Client: ClientConfig{
			ServerURL:           "http://localhost:8080",
			IncomingRingTimeout: 45 * time.Second,
			OutgoingRingTimeout: 60 * time.Second,
			NegotiationTimeout:  30 * time.Second,
			EndedHold:           3 * time.Second,
			QualityInterval:     time.Second,
			RequestTimeout:      10 * time.Second,
			ReconnectMin:        time.Second,
			ReconnectMax:        30 * time.Second,
			NotifyIncoming:      true,
		},
		Quality: domain.DefaultQualityThresholds(),
		Media: MediaConfig{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			AllowAudio: true,
			AllowVideo: true,
		},
	}
}

func (c *Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

// ValidateServer checks the settings the server binary needs.
func (c *Config) ValidateServer() error {
	var errs []error
	errs = append(errs, c.validateApp()...)

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.SignalRate <= 0 {
		errs = append(errs, fmt.Errorf("server.signal_rate must be positive, got %d", c.Server.SignalRate))
	}
	if c.Server.WSReadBuffer <= 0 || c.Server.WSWriteBuffer <= 0 {
		errs = append(errs, errors.New("server.ws_read_buffer and server.ws_write_buffer must be positive"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if !c.IsLocal() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes outside local/dev"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver))
	}
	return joinErrors(errs)
}

// ValidateClient checks the settings the client binary needs.
func (c *Config) ValidateClient() error {
	var errs []error
	errs = append(errs, c.validateApp()...)

	if u, err := url.Parse(c.Client.ServerURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.server_url is not a valid URL: %q", c.Client.ServerURL))
	}
	if _, err := domain.ParseUserID(c.Client.UserID); err != nil {
		errs = append(errs, fmt.Errorf("client.user_id must be a UUID, got %q", c.Client.UserID))
	}
	if c.Client.Token == "" {
		errs = append(errs, errors.New("client.token is required"))
	}
	for name, d := range map[string]time.Duration{
		"incoming_ring_timeout": c.Client.IncomingRingTimeout,
		"outgoing_ring_timeout": c.Client.OutgoingRingTimeout,
		"negotiation_timeout":   c.Client.NegotiationTimeout,
		"quality_interval":      c.Client.QualityInterval,
		"request_timeout":       c.Client.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("client.%s must be positive", name))
		}
	}
	if c.Client.EndedHold < 0 {
		errs = append(errs, errors.New("client.ended_hold must not be negative"))
	}
	if c.Client.ReconnectMin <= 0 || c.Client.ReconnectMax < c.Client.ReconnectMin {
		errs = append(errs, errors.New("client.reconnect_min must be positive and not above client.reconnect_max"))
	}
	if !c.Media.AllowAudio {
		errs = append(errs, errors.New("media.allow_audio cannot be disabled"))
	}

	q := c.Quality
	if q.Fair.PacketLossPct > q.Poor.PacketLossPct || q.Fair.LatencyMs > q.Poor.LatencyMs || q.Fair.JitterMs > q.Poor.JitterMs {
		errs = append(errs, errors.New("quality.fair limits must not exceed quality.poor limits"))
	}
	return joinErrors(errs)
}

func (c *Config) validateApp() []error {
	switch c.App.Env {
	case "local", "dev", "staging", "production":
		return nil
	default:
		return []error{fmt.Errorf("app.env must be one of local, dev, staging, production, got %q", c.App.Env)}
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
