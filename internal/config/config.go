package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lattice-video/signaling/internal/relay"
)

// Config binds every field spec.md §6.2 names plus the ambient fields
// needed to run the service (grounded on the teacher's Config struct
// and Load shape: YAML file selected by CONFIG_ENV, overridden by
// environment variables and CLI flags, SetDefault per field).
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"signaling_port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`

	StunServer           string `mapstructure:"stun_server"`
	TurnServerURL        string `mapstructure:"turn_server_url"`
	TurnServerUsername   string `mapstructure:"turn_server_username"`
	TurnServerCredential string `mapstructure:"turn_server_credential"`

	MediasoupListenIP    string `mapstructure:"mediasoup_listen_ip"`
	MediasoupAnnouncedIP string `mapstructure:"mediasoup_announced_ip"`
	MediasoupMinPort     int    `mapstructure:"mediasoup_min_port"`
	MediasoupMaxPort     int    `mapstructure:"mediasoup_max_port"`

	JWTSecret   string `mapstructure:"jwt_secret"`
	DatabaseURL string `mapstructure:"database_url"`

	ReapGraceSeconds  int           `mapstructure:"reap_grace_seconds"`
	RoomSweepInterval time.Duration `mapstructure:"room_sweep_interval"`

	AuthRateLimit  int           `mapstructure:"auth_rate_limit"`
	AuthRateWindow time.Duration `mapstructure:"auth_rate_window"`
}

// ICEServers builds the webrtc:ice-servers payload from the STUN/TURN
// settings; TURN is omitted when no URL is configured.
func (c *Config) ICEServers() []relay.ICEServer {
	var servers []relay.ICEServer
	if c.StunServer != "" {
		servers = append(servers, relay.ICEServer{URLs: []string{c.StunServer}})
	}
	if c.TurnServerURL != "" {
		servers = append(servers, relay.ICEServer{
			URLs:       []string{c.TurnServerURL},
			Username:   c.TurnServerUsername,
			Credential: c.TurnServerCredential,
		})
	}
	return servers
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	flags := pflag.NewFlagSet("signaling", pflag.ContinueOnError)
	configPath := flags.String("config", "", "explicit path to a config file, overrides CONFIG_ENV")
	port := flags.Int("port", 0, "override SIGNALING_PORT")
	_ = flags.Parse(os.Args[1:])

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if *configPath != "" {
		fileName = *configPath
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("signaling_port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("stun_server", "stun:stun.l.google.com:19302")
	v.SetDefault("mediasoup_listen_ip", "0.0.0.0")
	v.SetDefault("mediasoup_min_port", 40000)
	v.SetDefault("mediasoup_max_port", 49999)
	v.SetDefault("reap_grace_seconds", 30)
	v.SetDefault("room_sweep_interval", "2m")
	v.SetDefault("auth_rate_limit", 5)
	v.SetDefault("auth_rate_window", "15m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults and env\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	fmt.Printf("mode=%s port=%d static=%s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
