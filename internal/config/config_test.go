package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("CORS_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("SEED_DEMO", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "15")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9100", cfg.HTTPAddr())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.True(t, cfg.SeedDemo)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL())
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("INBOX_API_URL", "https://inbox.example.com/api/")
	t.Setenv("INBOX_WS_URL", "")
	t.Setenv("INBOX_PAGE_SIZE", "")
	t.Setenv("INBOX_SEARCH_DEBOUNCE", "not-a-duration")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "https://inbox.example.com/api", cfg.APIURL)
	assert.Equal(t, "wss://inbox.example.com/api/ws", cfg.WSURL)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.CollapseWindow)
	assert.Equal(t, 400*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, time.Second, cfg.RefreshDebounce)
}

func TestLoadClientRejectsBadScheme(t *testing.T) {
	t.Setenv("INBOX_API_URL", "ftp://inbox.example.com")
	t.Setenv("INBOX_WS_URL", "")
	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("INBOX_TEST_FROM_FILE=yes\nINBOX_TEST_PRESET=file\n"), 0o600))
	t.Setenv("INBOX_TEST_PRESET", "env")
	t.Setenv("INBOX_TEST_FROM_FILE", "")
	os.Unsetenv("INBOX_TEST_FROM_FILE")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "yes", os.Getenv("INBOX_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("INBOX_TEST_PRESET"))
}
