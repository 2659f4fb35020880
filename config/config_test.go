package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()

	req.NoError(err)
	req.Equal(9998, cfg.Port)
	req.Equal("chat.conf", cfg.CredentialsFile)
	req.Equal(100, cfg.MaxConnections)
	req.Equal(500*time.Millisecond, cfg.EventTimeout)
	req.Equal(time.Duration(0), cfg.IdleTimeout)
	req.False(cfg.StrictBodyLength)
	req.Equal(":9998", cfg.Addr())
}

func TestLoad_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHAT_HOST", "127.0.0.1")
	t.Setenv("CHAT_PORT", "7000")
	t.Setenv("CHAT_IDLE_TIMEOUT", "1m")
	t.Setenv("CHAT_STRICT_BODY_LENGTH", "true")
	t.Setenv("CHAT_LOG_LEVEL", "DEBUG")

	cfg, err := Load()

	req.NoError(err)
	req.Equal("127.0.0.1:7000", cfg.Addr())
	req.Equal(time.Minute, cfg.IdleTimeout)
	req.True(cfg.StrictBodyLength)
	req.Equal("DEBUG", cfg.LogLevel)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("CHAT_PORT", "70000")

	_, err := Load()

	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Credentials
	}{
		{
			name:    "all keys",
			content: "url: /var/lib/chat/chat.db\nuser: chat\npassword: s3cret\n",
			want:    Credentials{URL: "/var/lib/chat/chat.db", User: "chat", Password: "s3cret"},
		},
		{
			name:    "url falls back to default",
			content: "user: chat\n",
			want:    Credentials{URL: DefaultURL, User: "chat"},
		},
		{
			name:    "comments and blank lines",
			content: "# storage\n\nurl: other.db\n",
			want:    Credentials{URL: "other.db"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			path := filepath.Join(t.TempDir(), "chat.conf")
			req.NoError(os.WriteFile(path, []byte(tt.content), 0o600))

			creds, err := LoadConfig(path)

			req.NoError(err)
			req.Equal(tt.want, creds)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	req := require.New(t)

	creds, err := LoadConfig(filepath.Join(t.TempDir(), "absent.conf"))

	req.NoError(err)
	req.Equal(Credentials{URL: DefaultURL}, creds)
}
