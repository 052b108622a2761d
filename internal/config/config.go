// Package config loads the server and client configuration. Values come from
// built-in defaults, then an optional YAML file, then the environment (and a
// .env file), each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gear-foundation/one-of-us/internal/chain"
)

// Defaults shared by the server and the client.
const (
	DefaultRPCURL          = "https://hoodi-reth-rpc.gear-tech.io"
	DefaultAPIURL          = "http://localhost:3001"
	DefaultAuthProviderURL = "https://passkey.mithriy.com/"
	DefaultCallbackAddr    = "127.0.0.1:5174"
)

// Server configures cmd/oneofus-server.
type Server struct {
	Port          int     `yaml:"port" env:"PORT"`
	DatabaseURL   string  `yaml:"database_url" env:"DATABASE_URL"`
	RPCURL        string  `yaml:"rpc_url" env:"VARA_ETH_HTTP"`
	ProgramID     string  `yaml:"program_id" env:"PROGRAM_ID"`
	CountEncoding string  `yaml:"count_encoding" env:"COUNT_ENCODING"`
	CORSOrigins   string  `yaml:"cors_origins" env:"CORS_ORIGINS"`
	RateLimit     float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateBurst     int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	GaugeSchedule string  `yaml:"gauge_schedule" env:"GAUGE_SCHEDULE"`
	// RedisURL enables the passkey callback page on the server, broadcasting
	// results to clients over Redis.
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		Port:          3001,
		RPCURL:        DefaultRPCURL,
		CountEncoding: chain.CountEncodingFixed.String(),
		RateLimit:     20,
		RateBurst:     40,
		GaugeSchedule: "@every 30s",
		LogLevel:      "info",
	}
}

// Origins splits CORSOrigins on commas.
func (s Server) Origins() []string {
	return splitList(s.CORSOrigins)
}

// Validate checks the server configuration.
func (s Server) Validate() error {
	var errs []error
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", s.Port))
	}
	if s.ProgramID != "" {
		if _, err := chain.ParseProgramAddress(s.ProgramID); err != nil {
			errs = append(errs, fmt.Errorf("PROGRAM_ID: %w", err))
		}
	}
	if _, err := chain.ParseCountEncoding(s.CountEncoding); err != nil {
		errs = append(errs, fmt.Errorf("COUNT_ENCODING: %w", err))
	}
	return errors.Join(errs...)
}

// Client configures the oneofus CLI.
type Client struct {
	APIURL    string `yaml:"api_url" env:"API_URL"`
	RPCURL    string `yaml:"rpc_url" env:"VARA_ETH_HTTP"`
	WSURL     string `yaml:"ws_url" env:"VARA_ETH_WS"`
	ProgramID string `yaml:"program_id" env:"PROGRAM_ID"`
	// RouterAddress is the Vara.eth router contract, shown for diagnostics.
	RouterAddress     string `yaml:"router_address" env:"ROUTER_ADDRESS"`
	VerifierProgramID string `yaml:"verifier_program_id" env:"VERIFIER_PROGRAM_ID"`
	NonceProgramID    string `yaml:"nonce_program_id" env:"NONCE_PROGRAM_ID"`
	// WalletPrivateKey signs joins directly. In passkey mode it only pays
	// for the relayed transaction.
	WalletPrivateKey string        `yaml:"-" env:"WALLET_PRIVATE_KEY"`
	AuthProviderURL  string        `yaml:"auth_provider_url" env:"AUTH_PROVIDER_URL"`
	CallbackURL      string        `yaml:"callback_url" env:"CALLBACK_URL"`
	CallbackAddr     string        `yaml:"callback_addr" env:"CALLBACK_ADDR"`
	RedisURL         string        `yaml:"redis_url" env:"REDIS_URL"`
	StateDir         string        `yaml:"state_dir" env:"STATE_DIR"`
	CountEncoding    string        `yaml:"count_encoding" env:"COUNT_ENCODING"`
	ExplorerURL      string        `yaml:"explorer_url" env:"EXPLORER_URL"`
	WatchTimeout     time.Duration `yaml:"watch_timeout" env:"WATCH_TIMEOUT"`
	// RegistrationBlocking makes a join wait for the store registration.
	RegistrationBlocking bool   `yaml:"registration_blocking" env:"REGISTRATION_BLOCKING"`
	LogLevel             string `yaml:"log_level" env:"LOG_LEVEL"`
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	stateDir := ".oneofus"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".oneofus")
	}
	return Client{
		APIURL:          DefaultAPIURL,
		RPCURL:          DefaultRPCURL,
		AuthProviderURL: DefaultAuthProviderURL,
		CallbackAddr:    DefaultCallbackAddr,
		StateDir:        stateDir,
		CountEncoding:   chain.CountEncodingFixed.String(),
		ExplorerURL:     chain.DefaultExplorerURL,
		WatchTimeout:    5 * time.Minute,
		LogLevel:        "info",
	}
}

// Callback returns the callback URL given to the auth provider.
func (c Client) Callback() string {
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	return "http://" + c.CallbackAddr + "/auth/callback"
}

// Passkey reports whether joins are authorized by passkey.
func (c Client) Passkey() bool {
	return c.VerifierProgramID != ""
}

// Validate checks the client configuration.
func (c Client) Validate() error {
	var errs []error
	if c.ProgramID == "" {
		errs = append(errs, errors.New("PROGRAM_ID is required"))
	}
	for _, addr := range []struct{ name, value string }{
		{"PROGRAM_ID", c.ProgramID},
		{"ROUTER_ADDRESS", c.RouterAddress},
		{"VERIFIER_PROGRAM_ID", c.VerifierProgramID},
		{"NONCE_PROGRAM_ID", c.NonceProgramID},
	} {
		if addr.value == "" {
			continue
		}
		if _, err := chain.ParseProgramAddress(addr.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr.name, err))
		}
	}
	if c.Passkey() && c.NonceProgramID == "" {
		errs = append(errs, errors.New("NONCE_PROGRAM_ID is required with VERIFIER_PROGRAM_ID"))
	}
	if _, err := chain.ParseCountEncoding(c.CountEncoding); err != nil {
		errs = append(errs, fmt.Errorf("COUNT_ENCODING: %w", err))
	}
	if c.WatchTimeout <= 0 {
		errs = append(errs, errors.New("WATCH_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Loading
// =============================================================================

// LoadServer loads the server configuration. path names an optional YAML
// file; "" skips it.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// LoadClient loads the client configuration. path names an optional YAML
// file; "" skips it.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

func load(path string, target any) error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
