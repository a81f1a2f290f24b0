package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"clearline/crypto"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	RPCToken       string `toml:"RPCToken"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Env            string `toml:"Env"`
	LogFile        string `toml:"LogFile"`
	GenesisFile    string `toml:"GenesisFile"`

	AdminAddress        string `toml:"AdminAddress"`
	PauserAddress       string `toml:"PauserAddress"`
	FeeRecipientAddress string `toml:"FeeRecipientAddress"`

	FeeBps              uint32 `toml:"FeeBps"`
	CancelPenaltyBps    uint32 `toml:"CancelPenaltyBps"`
	MaxFeeBps           uint32 `toml:"MaxFeeBps"`
	MaxCancelPenaltyBps uint32 `toml:"MaxCancelPenaltyBps"`

	ParamDelaySeconds              int64 `toml:"ParamDelaySeconds"`
	MediatorActivationDelaySeconds int64 `toml:"MediatorActivationDelaySeconds"`
	MediatorRevokeCooldownSeconds  int64 `toml:"MediatorRevokeCooldownSeconds"`
}

const (
	defaultRPCAddress     = "127.0.0.1:8645"
	defaultMetricsAddress = "127.0.0.1:9465"
	defaultDataDir        = "./clearline-data"
	defaultGovDelay       = int64(48 * time.Hour / time.Second)
)

// Load reads the configuration from path, writing a default file first if
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = defaultMetricsAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "development"
	}
	if c.MaxFeeBps == 0 {
		c.MaxFeeBps = 1000
	}
	if c.MaxCancelPenaltyBps == 0 {
		c.MaxCancelPenaltyBps = 5000
	}
	if c.ParamDelaySeconds == 0 {
		c.ParamDelaySeconds = defaultGovDelay
	}
	if c.MediatorActivationDelaySeconds == 0 {
		c.MediatorActivationDelaySeconds = defaultGovDelay
	}
	if c.MediatorRevokeCooldownSeconds == 0 {
		c.MediatorRevokeCooldownSeconds = defaultGovDelay
	}
}

// Validate rejects configurations that could not bootstrap a working node.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := crypto.ParseAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if c.PauserAddress != "" {
		if _, err := crypto.ParseAddress(c.PauserAddress); err != nil {
			return fmt.Errorf("config: PauserAddress: %w", err)
		}
	}
	if strings.TrimSpace(c.FeeRecipientAddress) == "" {
		return fmt.Errorf("config: FeeRecipientAddress is required")
	}
	if _, err := crypto.ParseAddress(c.FeeRecipientAddress); err != nil {
		return fmt.Errorf("config: FeeRecipientAddress: %w", err)
	}
	if c.FeeBps > c.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds MaxFeeBps %d", c.FeeBps, c.MaxFeeBps)
	}
	if c.CancelPenaltyBps > c.MaxCancelPenaltyBps {
		return fmt.Errorf("config: CancelPenaltyBps %d exceeds MaxCancelPenaltyBps %d", c.CancelPenaltyBps, c.MaxCancelPenaltyBps)
	}
	return nil
}

// Admin returns the parsed bootstrap admin address.
func (c *Config) Admin() ([20]byte, error) {
	return crypto.ParseAddress(c.AdminAddress)
}

// Pauser returns the parsed pauser address, falling back to the admin when
// unset.
func (c *Config) Pauser() ([20]byte, error) {
	if strings.TrimSpace(c.PauserAddress) == "" {
		return c.Admin()
	}
	return crypto.ParseAddress(c.PauserAddress)
}

// FeeRecipient returns the parsed fee recipient address.
func (c *Config) FeeRecipient() ([20]byte, error) {
	return crypto.ParseAddress(c.FeeRecipientAddress)
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default config to %s; set AdminAddress and FeeRecipientAddress before starting", path)
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
