package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/gallery"
)

type Config struct {
	Port       int    `json:"port" env:"PORT"`
	RootFolder string `json:"root_folder" env:"ROOT_FOLDER"`
	APIPrefix  string `json:"api_prefix" env:"API_PREFIX"`
	CORSOrigin string `json:"cors_origin" env:"CORS_ORIGIN"`

	LogLevel  string `json:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" env:"LOG_FORMAT"`

	ClientID     string `json:"-" env:"DROPBOX_CLIENT_ID"`
	ClientSecret string `json:"-" env:"DROPBOX_CLIENT_SECRET"`
	RefreshToken string `json:"-" env:"DROPBOX_REFRESH_TOKEN"`

	APIURL        string        `json:"api_url" env:"DROPBOX_API_URL"`
	ContentURL    string        `json:"content_url" env:"DROPBOX_CONTENT_URL"`
	TokenURL      string        `json:"token_url" env:"DROPBOX_TOKEN_URL"`
	RemoteTimeout time.Duration `json:"remote_timeout" env:"REMOTE_TIMEOUT"`

	RPCConcurrency     int `json:"rpc_concurrency" env:"RPC_CONCURRENCY"`
	ContentConcurrency int `json:"content_concurrency" env:"CONTENT_CONCURRENCY"`

	Transcode bool `json:"transcode" env:"TRANSCODE"`

	PrewarmDelay    time.Duration `json:"prewarm_delay" env:"PREWARM_DELAY"`
	PrewarmInterval time.Duration `json:"prewarm_interval" env:"PREWARM_INTERVAL"`
	PrewarmTop      int           `json:"prewarm_top" env:"PREWARM_TOP"`
}

// Default returns the configuration used when no flag or variable overrides a field
func Default() *Config {
	return &Config{
		Port:               3000,
		RootFolder:         gallery.DefaultRootFolder,
		APIPrefix:          "/api/dropbox",
		CORSOrigin:         "*",
		LogLevel:           "info",
		LogFormat:          "json",
		APIURL:             dropbox.DefaultAPIURL,
		ContentURL:         dropbox.DefaultContentURL,
		TokenURL:           dropbox.TokenURL,
		RemoteTimeout:      dropbox.DefaultTimeout,
		RPCConcurrency:     6,
		ContentConcurrency: 8,
		Transcode:          true,
		PrewarmDelay:       2500 * time.Millisecond,
		PrewarmInterval:    15 * time.Minute,
		PrewarmTop:         6,
	}
}

// Load reads command-line flags, then applies environment overrides
func Load() (*Config, error) {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) (*Config, error) {
	config := Default()

	fs.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	fs.StringVar(&config.RootFolder, "root", config.RootFolder, "Top-level folder holding the project folders")
	fs.StringVar(&config.APIPrefix, "prefix", config.APIPrefix, "Path prefix of the API routes")
	fs.StringVar(&config.CORSOrigin, "cors-origin", config.CORSOrigin, "Allowed CORS origin")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "Log format (json, console)")
	fs.StringVar(&config.ClientID, "client-id", config.ClientID, "Dropbox app key")
	fs.StringVar(&config.ClientSecret, "client-secret", config.ClientSecret, "Dropbox app secret")
	fs.StringVar(&config.RefreshToken, "refresh-token", config.RefreshToken, "Dropbox refresh token")
	fs.DurationVar(&config.RemoteTimeout, "remote-timeout", config.RemoteTimeout, "Timeout of a single Dropbox call")
	fs.IntVar(&config.RPCConcurrency, "rpc-concurrency", config.RPCConcurrency, "Concurrent Dropbox RPC calls")
	fs.IntVar(&config.ContentConcurrency, "content-concurrency", config.ContentConcurrency, "Concurrent Dropbox content calls")
	fs.BoolVar(&config.Transcode, "transcode", config.Transcode, "Serve AVIF and WebP thumbnails when accepted")
	fs.DurationVar(&config.PrewarmDelay, "prewarm-delay", config.PrewarmDelay, "Delay before the first thumbnail prewarm")
	fs.DurationVar(&config.PrewarmInterval, "prewarm-interval", config.PrewarmInterval, "Interval between thumbnail prewarms")
	fs.IntVar(&config.PrewarmTop, "prewarm-top", config.PrewarmTop, "Number of project cards to prewarm")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	config.RefreshToken = SanitizeToken(config.RefreshToken)
	config.APIPrefix = normalizePrefix(config.APIPrefix)
	return config, nil
}

// normalizePrefix yields "" or a path with a leading and no trailing slash
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// SanitizeToken strips a byte-order mark, surrounding quotes and whitespace
// that copy-pasting a token into an env file tends to add.
func SanitizeToken(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	s = strings.Trim(s, "'\"`")
	return strings.TrimSpace(s)
}

var tokenShape = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// LooksLikeRefreshToken reports whether tok has the shape of a Dropbox refresh token
func LooksLikeRefreshToken(tok string) bool {
	return len(tok) > 40 && tokenShape.MatchString(tok)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("dropbox client id and secret are required")
	}
	if !LooksLikeRefreshToken(c.RefreshToken) {
		return fmt.Errorf("refresh token looks malformed (length %d)", len(c.RefreshToken))
	}
	if c.RootFolder == "" {
		return fmt.Errorf("root folder cannot be empty")
	}
	if c.RPCConcurrency < 1 || c.ContentConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}
	if c.PrewarmInterval <= 0 {
		return fmt.Errorf("prewarm interval must be positive")
	}
	return nil
}
