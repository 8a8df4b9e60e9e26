package authority

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arkavo-org/ntdf-go/internal/chain"
)

// Config holds authority configuration loaded from environment
// variables.
type Config struct {
	AdminToken          string
	MasterKey           [32]byte
	DBPath              string
	ListenAddr          string
	BaseURL             string
	Audience            string
	TerminalTTL         time.Duration
	ClockSkew           time.Duration
	AllowJailbroken     bool
	UnknownAsJailbroken bool
	AttestStrict        bool
	CORSOrigins         []string
}

// LoadConfig loads authority configuration from environment variables.
func LoadConfig() (*Config, error) {
	adminToken := os.Getenv("NTDF_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("NTDF_ADMIN_TOKEN is required")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("NTDF_ADMIN_TOKEN must be at least 16 characters")
	}

	var masterKey [32]byte
	masterHex := os.Getenv("NTDF_MASTER_KEY")
	if masterHex == "" {
		return nil, fmt.Errorf("NTDF_MASTER_KEY is required (64 hex characters)")
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(masterHex))
	if err != nil {
		return nil, fmt.Errorf("NTDF_MASTER_KEY must be hex: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("NTDF_MASTER_KEY must be 32 bytes (64 hex characters), got %d bytes", len(decoded))
	}
	copy(masterKey[:], decoded)

	dbPath := os.Getenv("NTDF_DB_PATH")
	if dbPath == "" {
		dbPath = "ntdf.db"
	}

	listenAddr := os.Getenv("NTDF_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	baseURL := strings.TrimRight(os.Getenv("NTDF_BASE_URL"), "/")

	audience := os.Getenv("NTDF_AUDIENCE")
	if audience == "" {
		audience = "arkavo"
	}

	terminalTTL, err := envSeconds("NTDF_TERMINAL_TTL", 3600)
	if err != nil {
		return nil, err
	}
	clockSkew, err := envSeconds("NTDF_CLOCK_SKEW", 60)
	if err != nil {
		return nil, err
	}

	allowJailbroken, err := envBool("NTDF_ALLOW_JAILBROKEN", false)
	if err != nil {
		return nil, err
	}
	unknownAsJailbroken, err := envBool("NTDF_UNKNOWN_AS_JAILBROKEN", false)
	if err != nil {
		return nil, err
	}
	attestStrict, err := envBool("NTDF_ATTEST_STRICT", false)
	if err != nil {
		return nil, err
	}

	var corsOrigins []string
	if v := os.Getenv("NTDF_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		AdminToken:          adminToken,
		MasterKey:           masterKey,
		DBPath:              dbPath,
		ListenAddr:          listenAddr,
		BaseURL:             baseURL,
		Audience:            audience,
		TerminalTTL:         terminalTTL,
		ClockSkew:           clockSkew,
		AllowJailbroken:     allowJailbroken,
		UnknownAsJailbroken: unknownAsJailbroken,
		AttestStrict:        attestStrict,
		CORSOrigins:         corsOrigins,
	}, nil
}

// ChainPolicy translates the config into the validation policy.
func (c *Config) ChainPolicy() chain.Policy {
	return chain.Policy{
		Skew:                     c.ClockSkew,
		AllowJailbroken:          c.AllowJailbroken,
		TreatUnknownAsJailbroken: c.UnknownAsJailbroken,
		Audience:                 c.Audience,
	}
}

func envSeconds(name string, def int) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer number of seconds", name)
	}
	return time.Duration(n) * time.Second, nil
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def, nil
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", name)
}
