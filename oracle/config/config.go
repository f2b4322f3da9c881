package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const (
	FileName  = "config.toml"
	EnvPrefix = "ORACLED"
)

// LatestBlock as a start block subscribes from the chain head.
const LatestBlock int64 = -1

type Config struct {
	Chain     ChainConfig     `toml:"chain" mapstructure:"chain"`
	Oracles   OraclesConfig   `toml:"oracles" mapstructure:"oracles"`
	Events    EventsConfig    `toml:"events" mapstructure:"events"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	API       APIConfig       `toml:"api" mapstructure:"api"`
	Consensus ConsensusConfig `toml:"consensus" mapstructure:"consensus"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Bootstrap BootstrapConfig `toml:"bootstrap" mapstructure:"bootstrap"`
	Health    HealthConfig    `toml:"health" mapstructure:"health"`
}

type ChainConfig struct {
	Endpoint            string `toml:"endpoint" mapstructure:"endpoint"`
	AppAddress          string `toml:"app_address" mapstructure:"app_address"`
	DataAddress         string `toml:"data_address" mapstructure:"data_address"`
	OwnerAccount        int    `toml:"owner_account" mapstructure:"owner_account"`
	GasLimit            uint64 `toml:"gas_limit" mapstructure:"gas_limit"`
	OracleGasLimit      uint64 `toml:"oracle_gas_limit" mapstructure:"oracle_gas_limit"`
	ReceiptPollInterval string `toml:"receipt_poll_interval" mapstructure:"receipt_poll_interval"`
}

func (c ChainConfig) App() common.Address  { return common.HexToAddress(c.AppAddress) }
func (c ChainConfig) Data() common.Address { return common.HexToAddress(c.DataAddress) }

func (c ChainConfig) PollInterval() time.Duration {
	return cast.ToDuration(c.ReceiptPollInterval)
}

type OraclesConfig struct {
	Count            int     `toml:"count" mapstructure:"count"`
	FirstAccount     int     `toml:"first_account" mapstructure:"first_account"`
	DesiredCode      uint8   `toml:"desired_code" mapstructure:"desired_code"`
	ErrorProbability float64 `toml:"error_probability" mapstructure:"error_probability"`
	Seed             int64   `toml:"seed" mapstructure:"seed"`
	Adopt            bool    `toml:"adopt" mapstructure:"adopt"`
}

type EventsConfig struct {
	RequestFromBlock int64 `toml:"request_from_block" mapstructure:"request_from_block"`
	QueueSize        int   `toml:"queue_size" mapstructure:"queue_size"`
}

type StoreConfig struct {
	Dir string `toml:"dir" mapstructure:"dir"`
}

type APIConfig struct {
	Enabled        bool     `toml:"enabled" mapstructure:"enabled"`
	Listen         string   `toml:"listen" mapstructure:"listen"`
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`
}

type ConsensusConfig struct {
	MinResponses int `toml:"min_responses" mapstructure:"min_responses"`
	History      int `toml:"history" mapstructure:"history"`
}

type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	File  bool   `toml:"file" mapstructure:"file"`
}

type BootstrapConfig struct {
	Enabled        bool           `toml:"enabled" mapstructure:"enabled"`
	AirlineAccount int            `toml:"airline_account" mapstructure:"airline_account"`
	Flights        []FlightConfig `toml:"flights" mapstructure:"flights"`
}

type FlightConfig struct {
	Flight    string `toml:"flight" mapstructure:"flight"`
	Departure string `toml:"departure" mapstructure:"departure"`
}

// Timestamp is the departure in unix seconds.
func (f FlightConfig) Timestamp() (uint64, error) {
	t, err := time.Parse(time.RFC3339, f.Departure)
	if err != nil {
		return 0, fmt.Errorf("flight %s: invalid departure %q: %w", f.Flight, f.Departure, err)
	}
	return uint64(t.Unix()), nil
}

type HealthConfig struct {
	Interval string `toml:"interval" mapstructure:"interval"`
}

func (h HealthConfig) Every() time.Duration {
	return cast.ToDuration(h.Interval)
}

func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Endpoint:            "ws://127.0.0.1:8545",
			OwnerAccount:        0,
			GasLimit:            999999999,
			OracleGasLimit:      9999999,
			ReceiptPollInterval: "500ms",
		},
		Oracles: OraclesConfig{
			Count:            20,
			FirstAccount:     20,
			DesiredCode:      uint8(types.StatusLateAirline),
			ErrorProbability: 0,
			Adopt:            true,
		},
		Events: EventsConfig{
			RequestFromBlock: 0,
			QueueSize:        1024,
		},
		API: APIConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:3000",
			AllowedOrigins: []string{"*"},
		},
		Consensus: ConsensusConfig{
			MinResponses: 3,
			History:      1024,
		},
		Log: LogConfig{
			Level: "info",
		},
		Bootstrap: BootstrapConfig{
			Enabled:        true,
			AirlineAccount: 1,
			Flights: []FlightConfig{
				{Flight: "523", Departure: "2021-11-19T12:00:00Z"},
				{Flight: "8001", Departure: "2021-11-20T15:30:00Z"},
				{Flight: "2397", Departure: "2021-11-26T19:45:00Z"},
			},
		},
		Health: HealthConfig{
			Interval: "30s",
		},
	}
}

// DefaultHome is ~/.oracled.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get user home directory: %v", err)
	}

	return filepath.Join(home, ".oracled")
}

// WriteDefault writes the default configuration to path, creating its
// directory.
func WriteDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads <home>/config.toml, writing the defaults first when it does not
// exist. Values missing from the file keep their defaults, and ORACLED_*
// environment variables override both.
func Load(home string) (*Config, error) {
	path := filepath.Join(home, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
		log.Infof("Wrote default config to %s", path)
	}

	defaults, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TOML: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Infof("Loaded config from %s", path)

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return fmt.Errorf("chain endpoint is required")
	}

	if !common.IsHexAddress(c.Chain.AppAddress) {
		return fmt.Errorf("chain app_address %q is not an address", c.Chain.AppAddress)
	}

	if !common.IsHexAddress(c.Chain.DataAddress) {
		return fmt.Errorf("chain data_address %q is not an address", c.Chain.DataAddress)
	}

	if c.Chain.OwnerAccount < 0 {
		return fmt.Errorf("chain owner_account must not be negative")
	}

	if c.Chain.GasLimit == 0 || c.Chain.OracleGasLimit == 0 {
		return fmt.Errorf("gas limits are required")
	}

	if _, err := cast.ToDurationE(c.Chain.ReceiptPollInterval); err != nil || c.Chain.PollInterval() <= 0 {
		return fmt.Errorf("invalid receipt_poll_interval %q", c.Chain.ReceiptPollInterval)
	}

	if c.Oracles.Count <= 0 {
		return fmt.Errorf("oracle count must be positive")
	}

	if c.Oracles.FirstAccount < 0 {
		return fmt.Errorf("oracle first_account must not be negative")
	}

	if !types.StatusCode(c.Oracles.DesiredCode).Valid() {
		return fmt.Errorf("invalid desired_code %d", c.Oracles.DesiredCode)
	}

	if c.Oracles.ErrorProbability < 0 || 1 < c.Oracles.ErrorProbability {
		return fmt.Errorf("error_probability must be in [0, 1]")
	}

	if c.Events.RequestFromBlock < LatestBlock {
		return fmt.Errorf("request_from_block must be %d (latest) or a block number", LatestBlock)
	}

	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("event queue_size must be positive")
	}

	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api listen address is required")
	}

	if c.Consensus.MinResponses <= 0 || c.Consensus.History <= 0 {
		return fmt.Errorf("consensus min_responses and history must be positive")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Bootstrap.Enabled {
		for _, f := range c.Bootstrap.Flights {
			if f.Flight == "" {
				return fmt.Errorf("bootstrap flight name is required")
			}
			if _, err := f.Timestamp(); err != nil {
				return err
			}
		}
	}

	if _, err := cast.ToDurationE(c.Health.Interval); err != nil || c.Health.Every() <= 0 {
		return fmt.Errorf("invalid health interval %q", c.Health.Interval)
	}

	return nil
}

// Print logs the effective configuration.
func (c *Config) Print(home string) {
	log.Infof("%-18s: %s", "Home", home)
	log.Infof("%-18s: %s", "Endpoint", c.Chain.Endpoint)
	log.Infof("%-18s: %s", "App contract", c.Chain.AppAddress)
	log.Infof("%-18s: %s", "Data contract", c.Chain.DataAddress)
	log.Infof("%-18s: %d from account %d", "Oracles", c.Oracles.Count, c.Oracles.FirstAccount)
	log.Infof("%-18s: %s (p_error %.2f)", "Desired code", types.StatusCode(c.Oracles.DesiredCode), c.Oracles.ErrorProbability)
	if c.API.Enabled {
		log.Infof("%-18s: %s", "API", c.API.Listen)
	}
}
