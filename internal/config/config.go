package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultSecret = "tgcalls-dev-secret"

type Config struct {
	AppName        string        `mapstructure:"app_name"`
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	DBPath         string        `mapstructure:"db_path"`
	Signal         SignalConfig  `mapstructure:"signal"`
	ICE            ICEConfig     `mapstructure:"ice"`
}

type SignalConfig struct {
	RequireSharedRoom bool          `mapstructure:"require_shared_room"`
	RateLimit         int           `mapstructure:"rate_limit"`
	RateInterval      time.Duration `mapstructure:"rate_interval"`
	SlowConsumer      string        `mapstructure:"slow_consumer"`
}

type ICEConfig struct {
	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

func (c *Config) Debug() bool { return c.Mode == "debug" }

// Servers lists STUN entries first, then TURN entries carrying credentials.
func (c ICEConfig) Servers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.STUNURLs)+len(c.TURNURLs))
	for _, u := range c.STUNURLs {
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	for _, u := range c.TURNURLs {
		out = append(out, webrtc.ICEServer{
			URLs:       []string{u},
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	return out
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName on top of the defaults. A missing file is not an
// error; TGCALLS_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("TGCALLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", "Telegram Calls API")
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", defaultSecret)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("db_path", "./data")
	v.SetDefault("signal.require_shared_room", false)
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.slow_consumer", "disconnect")
	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == defaultSecret && !cfg.Debug() {
		log.Warn().Str("module", "config").Msg("using the built-in session secret, set TGCALLS_SECRET")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("config ready")
	return &cfg, nil
}
