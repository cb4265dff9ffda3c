package config

import (
	"github.com/spf13/pflag"
)

// newFlagSet binds the command-line flags to dst. Only flags actually
// present on the command line override the other layers.
func newFlagSet(dst *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("guppyrelay", pflag.ContinueOnError)

	fs.StringVarP(&dst.ConfigFile, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&dst.DBDriver, "db-driver", dst.DBDriver, "store backend: memory, mysql, postgres or sqlite")
	fs.StringVar(&dst.DBHost, "db-host", dst.DBHost, "database host")
	fs.StringVar(&dst.DBPort, "db-port", dst.DBPort, "database port")
	fs.StringVar(&dst.DBUser, "db-user", dst.DBUser, "database user")
	fs.StringVar(&dst.DBPassword, "db-password", dst.DBPassword, "database password")
	fs.StringVar(&dst.DBName, "db-name", dst.DBName, "database name")
	fs.StringVar(&dst.DBPath, "db-path", dst.DBPath, "sqlite database file")
	fs.IntVar(&dst.DBMaxOpenConns, "db-max-open-conns", dst.DBMaxOpenConns, "maximum open database connections")
	fs.DurationVar(&dst.StoreTimeout, "store-timeout", dst.StoreTimeout, "per-operation store timeout")
	fs.StringVarP(&dst.ServerPort, "port", "p", dst.ServerPort, "HTTP listen port")
	fs.StringVar(&dst.Env, "env", dst.Env, "environment name (development, production)")
	fs.StringVar(&dst.LogLevel, "log-level", dst.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&dst.ShutdownTimeout, "shutdown-timeout", dst.ShutdownTimeout, "graceful shutdown timeout")
	fs.StringSliceVar(&dst.AllowedOrigins, "allowed-origins", dst.AllowedOrigins, "comma separated CORS/WebSocket origins")
	fs.DurationVar(&dst.WSPingInterval, "ws-ping-interval", dst.WSPingInterval, "WebSocket ping interval")
	fs.DurationVar(&dst.WSPongWait, "ws-pong-wait", dst.WSPongWait, "WebSocket pong deadline")
	fs.DurationVar(&dst.WSWriteWait, "ws-write-wait", dst.WSWriteWait, "WebSocket write deadline")
	fs.IntVar(&dst.WSSendBuffer, "ws-send-buffer", dst.WSSendBuffer, "outbound frames buffered per session")
	fs.Int64Var(&dst.WSMaxFrameBytes, "ws-max-frame-bytes", dst.WSMaxFrameBytes, "maximum inbound frame size")

	return fs
}

// applyFlags copies the explicitly set flags from src into cfg.
func applyFlags(fs *pflag.FlagSet, cfg *Config, src Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "db-driver":
			cfg.DBDriver = src.DBDriver
		case "db-host":
			cfg.DBHost = src.DBHost
		case "db-port":
			cfg.DBPort = src.DBPort
		case "db-user":
			cfg.DBUser = src.DBUser
		case "db-password":
			cfg.DBPassword = src.DBPassword
		case "db-name":
			cfg.DBName = src.DBName
		case "db-path":
			cfg.DBPath = src.DBPath
		case "db-max-open-conns":
			cfg.DBMaxOpenConns = src.DBMaxOpenConns
		case "store-timeout":
			cfg.StoreTimeout = src.StoreTimeout
		case "port":
			cfg.ServerPort = src.ServerPort
		case "env":
			cfg.Env = src.Env
		case "log-level":
			cfg.LogLevel = src.LogLevel
		case "shutdown-timeout":
			cfg.ShutdownTimeout = src.ShutdownTimeout
		case "allowed-origins":
			cfg.AllowedOrigins = trimAll(src.AllowedOrigins)
		case "ws-ping-interval":
			cfg.WSPingInterval = src.WSPingInterval
		case "ws-pong-wait":
			cfg.WSPongWait = src.WSPongWait
		case "ws-write-wait":
			cfg.WSWriteWait = src.WSWriteWait
		case "ws-send-buffer":
			cfg.WSSendBuffer = src.WSSendBuffer
		case "ws-max-frame-bytes":
			cfg.WSMaxFrameBytes = src.WSMaxFrameBytes
		}
	})
}
