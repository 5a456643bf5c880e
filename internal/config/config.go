package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// RequestsPerMinute limits request endpoints per owner key.
		RequestsPerMinute int `yaml:"requests_per_minute"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Chain struct {
		RPCURL      string        `yaml:"rpc_url"`
		PoolAddress string        `yaml:"pool_address"`
		BorrowAsset string        `yaml:"borrow_asset"`
		Stables     []string      `yaml:"stables"`
		DebtOrder   []string      `yaml:"debt_order"`
		Assets      []AssetConfig `yaml:"assets"`
	} `yaml:"chain"`

	Relay APIConfig  `yaml:"relay"`
	Swap  SwapConfig `yaml:"swap"`
	Fees  FeeConfig  `yaml:"fees"`

	Limits struct {
		MaxUtilizationPercent float64       `yaml:"max_utilization_percent"`
		BorrowTimeout         time.Duration `yaml:"borrow_timeout"`
		SwapTimeout           time.Duration `yaml:"swap_timeout"`
		RepayTimeout          time.Duration `yaml:"repay_timeout"`
		PollInterval          time.Duration `yaml:"poll_interval"`
		PositionCacheTTL      time.Duration `yaml:"position_cache_ttl"`
		StuckAfter            time.Duration `yaml:"stuck_after"`
	} `yaml:"limits"`
	Lock struct {
		TTL        time.Duration `yaml:"ttl"`
		RetryCount int           `yaml:"retry_count"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		Jitter     time.Duration `yaml:"jitter"`
	} `yaml:"lock"`
	Scheduler struct {
		BaseURI    string `yaml:"base_uri"`
		Secret     string `yaml:"secret"`
		Production bool   `yaml:"production"`

		MaxRetries      *int          `yaml:"max_retries"`
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
	} `yaml:"scheduler"`
}

type AssetConfig struct {
	Symbol     string `yaml:"symbol"`
	Underlying string `yaml:"underlying"`
	DebtToken  string `yaml:"debt_token"`
	Decimals   uint8  `yaml:"decimals"`
}

type APIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type SwapConfig struct {
	APIConfig    `yaml:",inline"`
	SlippageBips uint64 `yaml:"slippage_bips"`
}

type FeeConfig struct {
	Treasury    string            `yaml:"treasury"`
	DefaultBips uint64            `yaml:"default_bips"`
	ByProvider  map[string]uint64 `yaml:"by_provider"`
	FloorUSD    decimal.Decimal   `yaml:"floor_usd"`
	MinSendUSD  decimal.Decimal   `yaml:"min_send_usd"`
}

// Load reads path, fills defaults and validates.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "credit.db"
	}
	if c.Chain.BorrowAsset == "" {
		c.Chain.BorrowAsset = "USDCn"
	}
	if len(c.Chain.Stables) == 0 {
		c.Chain.Stables = []string{"USDC", "USDCn", "USDT", "DAI"}
	}
	if len(c.Chain.DebtOrder) == 0 {
		c.Chain.DebtOrder = []string{"USDC", "USDCn"}
	}
	if c.Swap.SlippageBips == 0 {
		c.Swap.SlippageBips = 50
	}
	if c.Fees.Treasury == "" {
		c.Fees.Treasury = "0x56483010f4dd79e01b20cb4de22e9a0baa0baade"
	}
	if c.Fees.DefaultBips == 0 && c.Fees.ByProvider == nil {
		c.Fees.DefaultBips = 400
		c.Fees.ByProvider = map[string]uint64{"referral": 0}
	}
	if c.Fees.FloorUSD.IsZero() {
		c.Fees.FloorUSD = decimal.RequireFromString("0.5")
	}
	if c.Fees.MinSendUSD.IsZero() {
		if c.Scheduler.Production {
			c.Fees.MinSendUSD = decimal.NewFromInt(5)
		} else {
			c.Fees.MinSendUSD = decimal.NewFromInt(1)
		}
	}
	if c.Limits.MaxUtilizationPercent == 0 {
		c.Limits.MaxUtilizationPercent = 97
	}
	if c.Limits.BorrowTimeout == 0 {
		c.Limits.BorrowTimeout = 10 * time.Minute
	}
	if c.Limits.SwapTimeout == 0 {
		c.Limits.SwapTimeout = 2 * time.Minute
	}
	if c.Limits.RepayTimeout == 0 {
		c.Limits.RepayTimeout = 2 * time.Minute
	}
	if c.Limits.PollInterval == 0 {
		c.Limits.PollInterval = 3 * time.Second
	}
	if c.Limits.PositionCacheTTL == 0 {
		c.Limits.PositionCacheTTL = 30 * time.Second
	}
	if c.Limits.StuckAfter == 0 {
		c.Limits.StuckAfter = 6 * time.Hour
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 600 * time.Second
	}
	if c.Lock.RetryCount == 0 {
		c.Lock.RetryCount = 10
	}
	if c.Lock.RetryDelay == 0 {
		c.Lock.RetryDelay = time.Second
	}
	if c.Lock.Jitter == 0 {
		c.Lock.Jitter = 200 * time.Millisecond
	}
	if c.Scheduler.MaxRetries == nil {
		retries := 3
		if c.Scheduler.Production {
			retries = 10
		}
		c.Scheduler.MaxRetries = &retries
	}
	if c.Scheduler.InitialInterval == 0 {
		c.Scheduler.InitialInterval = 30 * time.Second
		if c.Scheduler.Production {
			c.Scheduler.InitialInterval = 300 * time.Second
		}
	}
	if c.Scheduler.MaxInterval == 0 {
		c.Scheduler.MaxInterval = 60 * time.Second
		if c.Scheduler.Production {
			c.Scheduler.MaxInterval = 3600 * time.Second
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if !common.IsHexAddress(c.Chain.PoolAddress) {
		errs = append(errs, fmt.Errorf("chain.pool_address %q is not an address", c.Chain.PoolAddress))
	}
	if !common.IsHexAddress(c.Fees.Treasury) {
		errs = append(errs, fmt.Errorf("fees.treasury %q is not an address", c.Fees.Treasury))
	}
	for _, a := range c.Chain.Assets {
		if !common.IsHexAddress(a.Underlying) {
			errs = append(errs, fmt.Errorf("asset %s: underlying %q is not an address", a.Symbol, a.Underlying))
		}
		if a.DebtToken != "" && !common.IsHexAddress(a.DebtToken) {
			errs = append(errs, fmt.Errorf("asset %s: debt_token %q is not an address", a.Symbol, a.DebtToken))
		}
		if a.Decimals > domain.NativeDecimals {
			errs = append(errs, fmt.Errorf("asset %s: decimals %d above %d", a.Symbol, a.Decimals, domain.NativeDecimals))
		}
	}
	for _, sym := range c.Chain.DebtOrder {
		for _, a := range c.Chain.Assets {
			if a.Symbol == sym && a.DebtToken == "" {
				errs = append(errs, fmt.Errorf("debt asset %s has no debt_token", sym))
			}
		}
	}
	if _, err := c.AssetSet(); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.MaxUtilizationPercent <= 0 || c.Limits.MaxUtilizationPercent > 100 {
		errs = append(errs, fmt.Errorf("limits.max_utilization_percent %v outside (0, 100]", c.Limits.MaxUtilizationPercent))
	}
	if c.Fees.DefaultBips > domain.BipsDenominator {
		errs = append(errs, fmt.Errorf("fees.default_bips %d above %d", c.Fees.DefaultBips, domain.BipsDenominator))
	}
	for provider, bips := range c.Fees.ByProvider {
		if bips > domain.BipsDenominator {
			errs = append(errs, fmt.Errorf("fees.by_provider.%s %d above %d", provider, bips, domain.BipsDenominator))
		}
	}
	if c.Scheduler.BaseURI == "" {
		errs = append(errs, errors.New("scheduler.base_uri is required"))
	}
	if len(c.Scheduler.Secret) < 16 {
		errs = append(errs, errors.New("scheduler.secret must be at least 16 characters"))
	}
	if c.Relay.BaseURL == "" {
		errs = append(errs, errors.New("relay.base_url is required"))
	}
	if c.Swap.BaseURL == "" {
		errs = append(errs, errors.New("swap.base_url is required"))
	}
	return errors.Join(errs...)
}

// AssetSet builds the immutable asset table.
func (c *Config) AssetSet() (*domain.AssetSet, error) {
	assets := make([]domain.Asset, 0, len(c.Chain.Assets))
	for _, a := range c.Chain.Assets {
		asset := domain.Asset{
			Symbol:     strings.TrimSpace(a.Symbol),
			Underlying: common.HexToAddress(a.Underlying),
			Decimals:   a.Decimals,
		}
		if a.DebtToken != "" {
			asset.DebtToken = common.HexToAddress(a.DebtToken)
		}
		assets = append(assets, asset)
	}
	return domain.NewAssetSet(assets, c.Chain.Stables, c.Chain.DebtOrder, c.Chain.BorrowAsset)
}

// RetryPolicy is the scheduler's redelivery policy.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:      *c.Scheduler.MaxRetries,
		InitialInterval: c.Scheduler.InitialInterval,
		MaxInterval:     c.Scheduler.MaxInterval,
	}
}

// USDToNative converts a display dollar amount to native units.
func USDToNative(v decimal.Decimal) *big.Int {
	return v.Shift(domain.NativeDecimals).Truncate(0).BigInt()
}
