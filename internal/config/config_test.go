package config

import (
	"flag"
	"io"
	"strings"
	"testing"
	"time"
)

const validToken = "sl.u.AbCdEfGhIjKlMnOpQrStUvWxYz0123456789-_.AbCdEf"

func validConfig() Config {
	c := *Default()
	c.ClientID = "app-key"
	c.ClientSecret = "app-secret"
	c.RefreshToken = validToken
	return c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - too low",
			modify:  func(c *Config) { c.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			modify:  func(c *Config) { c.Port = 99999 },
			wantErr: true,
		},
		{
			name:    "missing client secret",
			modify:  func(c *Config) { c.ClientSecret = "" },
			wantErr: true,
		},
		{
			name:    "short refresh token",
			modify:  func(c *Config) { c.RefreshToken = "abc" },
			wantErr: true,
		},
		{
			name:    "refresh token with spaces",
			modify:  func(c *Config) { c.RefreshToken = strings.Repeat("a", 30) + " " + strings.Repeat("b", 30) },
			wantErr: true,
		},
		{
			name:    "empty root folder",
			modify:  func(c *Config) { c.RootFolder = "" },
			wantErr: true,
		},
		{
			name:    "zero content concurrency",
			modify:  func(c *Config) { c.ContentConcurrency = 0 },
			wantErr: true,
		},
		{
			name:    "zero remote timeout",
			modify:  func(c *Config) { c.RemoteTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{validToken, validToken},
		{`"` + validToken + `"`, validToken},
		{"'" + validToken + "'\r\n", validToken},
		{"\ufeff" + validToken, validToken},
		{"  `" + validToken + "`  ", validToken},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SanitizeToken(tt.raw); got != tt.want {
			t.Errorf("SanitizeToken(%q): expected %q, got %q", tt.raw, tt.want, got)
		}
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Expected port 3000, got %d", cfg.Port)
	}
	if cfg.APIPrefix != "/api/dropbox" {
		t.Errorf("Expected prefix /api/dropbox, got %s", cfg.APIPrefix)
	}
	if cfg.RootFolder != "Website Photos" {
		t.Errorf("Expected root folder Website Photos, got %s", cfg.RootFolder)
	}
	if cfg.PrewarmDelay != 2500*time.Millisecond || cfg.PrewarmTop != 6 {
		t.Errorf("Expected prewarm defaults, got %v / %d", cfg.PrewarmDelay, cfg.PrewarmTop)
	}
}

func TestParse_EnvOverridesFlags(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DROPBOX_REFRESH_TOKEN", `"`+validToken+"\"\n")
	t.Setenv("PREWARM_INTERVAL", "5m")
	t.Setenv("TRANSCODE", "false")

	cfg, err := parse(newFlagSet(), []string{"-port", "8081", "-prefix", "api/v2/", "-rpc-concurrency", "3"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Expected env port 9090, got %d", cfg.Port)
	}
	if cfg.RPCConcurrency != 3 {
		t.Errorf("Expected flag rpc concurrency 3, got %d", cfg.RPCConcurrency)
	}
	if cfg.APIPrefix != "/api/v2" {
		t.Errorf("Expected normalized prefix /api/v2, got %s", cfg.APIPrefix)
	}
	if cfg.RefreshToken != validToken {
		t.Errorf("Expected sanitized token, got %q", cfg.RefreshToken)
	}
	if cfg.PrewarmInterval != 5*time.Minute {
		t.Errorf("Expected prewarm interval 5m, got %v", cfg.PrewarmInterval)
	}
	if cfg.Transcode {
		t.Error("Expected transcode disabled by env")
	}
}

func TestParse_InvalidEnv(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := parse(newFlagSet(), nil); err == nil {
		t.Error("Expected error for malformed PORT")
	}
}
