package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	AdminKeySalt string
	EmailSalt    string
	LogLevel     string

	// Chain anchoring; an empty RPC URL selects the ledger kept in the
	// database.
	ChainRPCURL     string
	ChainID         int64
	ContractAddress string
	AnchorKeyHex    string

	// EIP-712 domain
	DomainName    string
	DomainVersion string

	// Content storage: db, memory, badger, s3 or gcs. Location is a directory
	// for badger and bucket[/prefix] for s3 and gcs.
	ContentBackend  string
	ContentLocation string

	ExternalTimeout time.Duration
	RetryAttempts   int
	VoteRateLimit   float64

	// Tracing exports spans over OTLP/HTTP, configured by the standard
	// OTEL_EXPORTER_OTLP_* variables. TraceStdout prints them instead.
	Tracing     bool
	TraceStdout bool
}

// ParseFlags loads an optional .env file, then parses flags with environment
// fallback.
func ParseFlags(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	var timeout string

	fs := flag.NewFlagSet("verivote", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")
	fs.StringVar(&cfg.EmailSalt, "email-salt", "", "Email hash salt (prefer env)")
	fs.StringVar(&cfg.AnchorKeyHex, "anchor-key", "", "Hex private key of the anchoring account (prefer env)")

	fs.StringVar(&cfg.ChainRPCURL, "rpc", "", "EVM JSON-RPC endpoint")
	fs.Int64Var(&cfg.ChainID, "chain-id", 0, "EVM chain id")
	fs.StringVar(&cfg.ContractAddress, "contract", "", "Voting contract address")
	fs.StringVar(&cfg.DomainName, "domain-name", "", "EIP-712 domain name")
	fs.StringVar(&cfg.DomainVersion, "domain-version", "", "EIP-712 domain version")

	fs.StringVar(&cfg.ContentBackend, "content", "", "Content store (db, memory, badger, s3, gcs)")
	fs.StringVar(&cfg.ContentLocation, "content-location", "", "Content store directory or bucket[/prefix]")

	fs.StringVar(&timeout, "external-timeout", "", "Per-attempt timeout for storage and chain calls")
	fs.IntVar(&cfg.RetryAttempts, "retries", 0, "Attempts per external call")
	fs.Float64Var(&cfg.VoteRateLimit, "vote-rate", 0, "Vote and binding requests per second per client")
	fs.BoolVar(&cfg.Tracing, "tracing", false, "Export trace spans over OTLP/HTTP")
	fs.BoolVar(&cfg.TraceStdout, "trace-stdout", false, "Export trace spans to stdout")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3318 // default
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	cfg.DatabaseType = fallback(cfg.DatabaseType, "DATABASE_TYPE", "sqlite")
	cfg.LogLevel = fallback(cfg.LogLevel, "LOG_LEVEL", "info")

	// Secrets - MUST be provided
	cfg.AdminKeySalt = fallback(cfg.AdminKeySalt, "ADMIN_KEY_SALT", "")
	if cfg.AdminKeySalt == "" {
		return Config{}, errors.New("ADMIN_KEY_SALT required")
	}
	cfg.EmailSalt = fallback(cfg.EmailSalt, "EMAIL_SALT", "")
	if cfg.EmailSalt == "" {
		return Config{}, errors.New("EMAIL_SALT required")
	}

	cfg.ChainRPCURL = fallback(cfg.ChainRPCURL, "CHAIN_RPC_URL", "")
	cfg.AnchorKeyHex = fallback(cfg.AnchorKeyHex, "ANCHOR_KEY", "")
	if cfg.ChainRPCURL != "" && cfg.AnchorKeyHex == "" {
		return Config{}, errors.New("ANCHOR_KEY required when CHAIN_RPC_URL is set")
	}

	if cfg.ChainID == 0 {
		if s := os.Getenv("CHAIN_ID"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil || id <= 0 {
				return Config{}, errors.New("invalid CHAIN_ID env variable")
			}
			cfg.ChainID = id
		} else {
			cfg.ChainID = 31337
		}
	}

	cfg.ContractAddress = fallback(cfg.ContractAddress, "CONTRACT_ADDRESS", common.Address{}.Hex())
	if !common.IsHexAddress(cfg.ContractAddress) {
		return Config{}, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	cfg.DomainName = fallback(cfg.DomainName, "DOMAIN_NAME", "VeriVote")
	cfg.DomainVersion = fallback(cfg.DomainVersion, "DOMAIN_VERSION", "1")

	cfg.ContentBackend = strings.ToLower(fallback(cfg.ContentBackend, "CONTENT_BACKEND", "db"))
	cfg.ContentLocation = fallback(cfg.ContentLocation, "CONTENT_LOCATION", "")
	switch cfg.ContentBackend {
	case "db", "memory":
	case "badger", "s3", "gcs":
		if cfg.ContentLocation == "" {
			return Config{}, fmt.Errorf("CONTENT_LOCATION required for %s content store", cfg.ContentBackend)
		}
	default:
		return Config{}, fmt.Errorf("unknown content backend %q", cfg.ContentBackend)
	}

	timeout = fallback(timeout, "EXTERNAL_TIMEOUT", "10s")
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return Config{}, fmt.Errorf("invalid external timeout %q", timeout)
	}
	cfg.ExternalTimeout = d

	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 4
		if s := os.Getenv("RETRY_ATTEMPTS"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return Config{}, errors.New("invalid RETRY_ATTEMPTS env variable")
			}
			cfg.RetryAttempts = n
		}
	}

	if cfg.VoteRateLimit == 0 {
		cfg.VoteRateLimit = 5
		if s := os.Getenv("VOTE_RATE_LIMIT"); s != "" {
			r, err := strconv.ParseFloat(s, 64)
			if err != nil || r <= 0 {
				return Config{}, errors.New("invalid VOTE_RATE_LIMIT env variable")
			}
			cfg.VoteRateLimit = r
		}
	}

	if !cfg.Tracing {
		cfg.Tracing, _ = strconv.ParseBool(os.Getenv("TRACING"))
	}
	if !cfg.TraceStdout {
		cfg.TraceStdout, _ = strconv.ParseBool(os.Getenv("TRACE_STDOUT"))
	}

	return cfg, nil
}

func fallback(value, env, def string) string {
	if value != "" {
		return value
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}
