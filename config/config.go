package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from CHAT_* environment variables.
type Config struct {
	Host            string `envconfig:"HOST" default:""`
	Port            int    `envconfig:"PORT" default:"9998"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE" default:"chat.conf"`
	MaxConnections  int    `envconfig:"MAX_CONNECTIONS" default:"100"`

	// EVENT_QUEUE_SIZE bounds the outbound event channel; publishers wait at
	// most EVENT_TIMEOUT for room before the event is dropped
	EventQueueSize int           `envconfig:"EVENT_QUEUE_SIZE" default:"100"`
	EventTimeout   time.Duration `envconfig:"EVENT_TIMEOUT" default:"500ms"`
	EventHistory   int           `envconfig:"EVENT_HISTORY" default:"200"`

	// IDLE_TIMEOUT of 0 keeps idle connections forever
	IdleTimeout      time.Duration `envconfig:"IDLE_TIMEOUT" default:"0s"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	StrictBodyLength bool          `envconfig:"STRICT_BODY_LENGTH" default:"false"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	ControlSocket string `envconfig:"CONTROL_SOCKET" default:"/tmp/chatd.sock"`
}

func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CHAT", &cfg); err != nil {
		return nil, err
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Credentials locate the persistence backend.
type Credentials struct {
	URL      string
	User     string
	Password string
}

const DefaultURL = "chat.db"

// LoadConfig reads a key:value file with the keys url, user and password.
// A missing file yields the defaults.
func LoadConfig(path string) (Credentials, error) {
	creds := Credentials{URL: DefaultURL}

	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}

	if v, ok := values["url"]; ok && v != "" {
		creds.URL = v
	}
	creds.User = values["user"]
	creds.Password = values["password"]
	return creds, nil
}
