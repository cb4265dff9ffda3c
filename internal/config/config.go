package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Supported message/user store backends
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration
type Config struct {
	// ストア設定
	DBDriver       string        `yaml:"db_driver"`
	DBHost         string        `yaml:"db_host"`
	DBPort         string        `yaml:"db_port"`
	DBUser         string        `yaml:"db_user"`
	DBPassword     string        `yaml:"db_password"`
	DBName         string        `yaml:"db_name"`
	DBPath         string        `yaml:"db_path"`
	DBMaxOpenConns int           `yaml:"db_max_open_conns"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`

	// サーバー設定
	ServerPort      string        `yaml:"server_port"`
	Env             string        `yaml:"env"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORS設定
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WebSocket設定
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	WSPongWait      time.Duration `yaml:"ws_pong_wait"`
	WSWriteWait     time.Duration `yaml:"ws_write_wait"`
	WSSendBuffer    int           `yaml:"ws_send_buffer"`
	WSMaxFrameBytes int64         `yaml:"ws_max_frame_bytes"`

	// ConfigFile is the YAML file the config was read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the development defaults. The original client used
// 4s STOMP heartbeats; pings go out a bit faster than the pong deadline.
func Default() Config {
	return Config{
		DBDriver:        DriverMemory,
		DBHost:          "localhost",
		DBPath:          "guppyrelay.db",
		DBMaxOpenConns:  10,
		StoreTimeout:    5 * time.Second,
		ServerPort:      "8080",
		Env:             "development",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		WSPingInterval:  4 * time.Second,
		WSPongWait:      10 * time.Second,
		WSWriteWait:     5 * time.Second,
		WSSendBuffer:    64,
		WSMaxFrameBytes: 1 << 20,
	}
}

// Load builds the configuration in layers: defaults, then the YAML file
// named by CONFIG_FILE or --config, then environment variables, then any
// flags given explicitly on the command line.
func Load(args []string) (Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (Config, error) {
	overrides := Default()
	fs := newFlagSet(&overrides)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	cfg := Default()

	path := getenv("CONFIG_FILE")
	if fs.Changed("config") {
		path = overrides.ConfigFile
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	applyFlags(fs, &cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys missing from
// the file keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("DB_DRIVER", &cfg.DBDriver)
	str("DB_HOST", &cfg.DBHost)
	str("DB_PORT", &cfg.DBPort)
	str("DB_USER", &cfg.DBUser)
	str("DB_PASSWORD", &cfg.DBPassword)
	str("DB_NAME", &cfg.DBName)
	str("DB_PATH", &cfg.DBPath)
	str("SERVER_PORT", &cfg.ServerPort)
	str("ENV", &cfg.Env)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = trimAll(strings.Split(v, ","))
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"WS_PING_INTERVAL", &cfg.WSPingInterval},
		{"WS_PONG_WAIT", &cfg.WSPongWait},
		{"WS_WRITE_WAIT", &cfg.WSWriteWait},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns},
		{"WS_SEND_BUFFER", &cfg.WSSendBuffer},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = parsed
	}

	if v := getenv("WS_MAX_FRAME_BYTES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WS_MAX_FRAME_BYTES: %w", err)
		}
		cfg.WSMaxFrameBytes = parsed
	}

	return nil
}

// Validate checks that the configuration can actually be served.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory, DriverSQLite:
	case DriverMySQL, DriverPostgres:
		if c.DBName == "" {
			return fmt.Errorf("db_name is required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("unknown db_driver %q", c.DBDriver)
	}

	if c.DBDriver == DriverSQLite && c.DBPath == "" {
		return errors.New("db_path is required for driver \"sqlite\"")
	}

	port, err := strconv.Atoi(c.ServerPort)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %q", c.ServerPort)
	}

	if c.StoreTimeout <= 0 {
		return errors.New("store_timeout must be positive")
	}
	if c.WSPingInterval <= 0 || c.WSPongWait <= 0 || c.WSWriteWait <= 0 {
		return errors.New("websocket intervals must be positive")
	}
	if c.WSPingInterval >= c.WSPongWait {
		return fmt.Errorf("ws_ping_interval (%s) must be shorter than ws_pong_wait (%s)", c.WSPingInterval, c.WSPongWait)
	}
	if c.WSSendBuffer < 1 {
		return errors.New("ws_send_buffer must be >= 1")
	}
	if c.WSMaxFrameBytes < 1 {
		return errors.New("ws_max_frame_bytes must be >= 1")
	}
	if c.DBMaxOpenConns < 1 {
		return errors.New("db_max_open_conns must be >= 1")
	}
	return nil
}

// Port returns DBPort, falling back to the driver's well-known port.
func (c Config) Port() string {
	if c.DBPort != "" {
		return c.DBPort
	}
	switch c.DBDriver {
	case DriverMySQL:
		return "3306"
	case DriverPostgres:
		return "5432"
	}
	return ""
}

// DSN builds the driver-specific data source name.
func (c Config) DSN() string {
	switch c.DBDriver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.DBUser
		mc.Passwd = c.DBPassword
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.DBHost, c.Port())
		mc.DBName = c.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN()
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.DBUser, c.DBPassword),
			Host:     net.JoinHostPort(c.DBHost, c.Port()),
			Path:     "/" + c.DBName,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case DriverSQLite:
		return "file:" + c.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return ""
}

// ListenAddr is the address handed to http.Server.
func (c Config) ListenAddr() string {
	return ":" + c.ServerPort
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
