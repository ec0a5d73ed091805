package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	DBMaxConns  int32
	StoreDriver string
	ServerAddr  string
	LogLevel    string

	JWTSecret string
	JWTIssuer string

	RateLimitPerMinute float64
	RateLimitBurst     int
	SSEHeartbeat       time.Duration

	StageDeadlines     map[trade.Stage]time.Duration
	SupervisorInterval time.Duration
	SupervisorBatch    int

	ReconcilerFlushInterval time.Duration
	ReconcilerParkTTL       time.Duration
	ReconcilerMaxParked     int

	EVM EVMConfig
}

// EVMConfig configures the escrow contract link. An empty RPCURL disables it.
type EVMConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	Confirmations   uint64
	PollInterval    time.Duration
	StartBlock      uint64
	BatchBlocks     uint64
	SignerKey       string
	SignerKeyID     string
}

// Enabled reports whether an escrow contract is configured.
func (c EVMConfig) Enabled() bool {
	return c.RPCURL != "" && c.ContractAddress != ""
}

// source resolves a key from the environment first, then the overlay file.
type source struct {
	file map[string]string
}

// Load reads configuration from environment. CONFIG_FILE may name a YAML
// file of KEY: value pairs; environment variables take precedence over it.
func Load() (*Config, error) {
	src := &source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readOverlay(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}
	return src.load()
}

func readOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s *source) load() (*Config, error) {
	dsn := s.getenv("DATABASE_URL", "")
	if dsn == "" {
		user := s.getenv("POSTGRES_USER", "escrow_hub")
		pass := s.getenv("POSTGRES_PASSWORD", "escrow_hub_pass")
		db := s.getenv("POSTGRES_DB", "escrow_hub")
		host := s.getenv("POSTGRES_HOST", "localhost")
		port := s.getenv("POSTGRES_PORT", "5432")
		sslmode := s.getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	driver := strings.ToLower(s.getenv("STORE_DRIVER", StoreDriverPostgres))
	if driver != StoreDriverPostgres && driver != StoreDriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %s or %s", StoreDriverPostgres, StoreDriverMemory)
	}

	secret := s.getenv("AUTH_JWT_SECRET", "")
	if secret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}

	deadlines, err := ParseStageDeadlines(s.getenv("STAGE_DEADLINES", "fiat_sent=1h"))
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL: dsn,
		DBMaxConns:  int32(parseInt(s.getenv("DB_MAX_CONNS", "16"), 16)),
		StoreDriver: driver,
		ServerAddr:  s.getenv("SERVER_ADDR", "0.0.0.0:8080"),
		LogLevel:    s.getenv("LOG_LEVEL", "info"),

		JWTSecret: secret,
		JWTIssuer: s.getenv("AUTH_JWT_ISSUER", ""),

		RateLimitPerMinute: parseFloat(s.getenv("RATE_LIMIT_PER_MINUTE", "120"), 120),
		RateLimitBurst:     parseInt(s.getenv("RATE_LIMIT_BURST", "20"), 20),
		SSEHeartbeat:       parseDuration(s.getenv("SSE_HEARTBEAT", "15s"), 15*time.Second),

		StageDeadlines:     deadlines,
		SupervisorInterval: parseDuration(s.getenv("SUPERVISOR_INTERVAL", "30s"), 30*time.Second),
		SupervisorBatch:    parseInt(s.getenv("SUPERVISOR_BATCH", "100"), 100),

		ReconcilerFlushInterval: parseDuration(s.getenv("RECONCILER_FLUSH_INTERVAL", "10s"), 10*time.Second),
		ReconcilerParkTTL:       parseDuration(s.getenv("RECONCILER_PARK_TTL", "30m"), 30*time.Minute),
		ReconcilerMaxParked:     parseInt(s.getenv("RECONCILER_MAX_PARKED", "1024"), 1024),

		EVM: EVMConfig{
			RPCURL:          s.getenv("EVM_RPC_URL", ""),
			ContractAddress: s.getenv("ESCROW_CONTRACT_ADDRESS", ""),
			ChainID:         int64(parseInt(s.getenv("EVM_CHAIN_ID", "1"), 1)),
			Confirmations:   parseUint(s.getenv("EVM_CONFIRMATIONS", "12"), 12),
			PollInterval:    parseDuration(s.getenv("EVM_POLL_INTERVAL", "5s"), 5*time.Second),
			StartBlock:      parseUint(s.getenv("EVM_START_BLOCK", "0"), 0),
			BatchBlocks:     parseUint(s.getenv("EVM_BATCH_BLOCKS", "2000"), 2000),
			SignerKey:       s.getenv("ESCROW_SIGNER_KEY", ""),
			SignerKeyID:     s.getenv("ESCROW_SIGNER_KEY_ID", "default"),
		},
	}, nil
}

// ParseStageDeadlines reads "stage=duration" pairs separated by commas.
func ParseStageDeadlines(raw string) (map[trade.Stage]time.Duration, error) {
	out := make(map[trade.Stage]time.Duration)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("STAGE_DEADLINES: %q is not stage=duration", part)
		}
		stage, err := trade.ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("STAGE_DEADLINES: %w", err)
		}
		if !stage.Cancellable() {
			return nil, fmt.Errorf("STAGE_DEADLINES: stage %s cannot time out", stage)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("STAGE_DEADLINES: invalid duration for %s", stage)
		}
		out[stage] = d
	}
	return out, nil
}

func (s *source) getenv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[key]; ok && val != "" {
		return val
	}
	return def
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseUint(val string, def uint64) uint64 {
	if val == "" {
		return def
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
