package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Client is the configuration of one inbox session.
type Client struct {
	APIURL   string
	WSURL    string
	Username string
	Password string

	PageSize        int
	RequestTimeout  time.Duration
	CollapseWindow  time.Duration
	SearchDebounce  time.Duration
	RefreshDebounce time.Duration

	LogLevel slog.Level
}

func LoadClient() (*Client, error) {
	cfg := &Client{
		APIURL:   strings.TrimRight(getEnv("INBOX_API_URL", "http://localhost:8000/api"), "/"),
		WSURL:    getEnv("INBOX_WS_URL", ""),
		Username: getEnv("INBOX_USERNAME", ""),
		Password: getEnv("INBOX_PASSWORD", ""),

		PageSize:        getEnvAsInt("INBOX_PAGE_SIZE", 25),
		RequestTimeout:  getEnvAsDuration("INBOX_REQUEST_TIMEOUT", 10*time.Second),
		CollapseWindow:  getEnvAsDuration("INBOX_COLLAPSE_WINDOW", 500*time.Millisecond),
		SearchDebounce:  getEnvAsDuration("INBOX_SEARCH_DEBOUNCE", 400*time.Millisecond),
		RefreshDebounce: getEnvAsDuration("INBOX_REFRESH_DEBOUNCE", time.Second),

		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.WSURL == "" {
		ws, err := DeriveWSURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = ws
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("INBOX_PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	return cfg, nil
}

// DeriveWSURL turns the REST base URL into the push-channel URL:
// http(s)://host/api becomes ws(s)://host/api/ws.
func DeriveWSURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse INBOX_API_URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("INBOX_API_URL must be http or https, got %q", apiURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
