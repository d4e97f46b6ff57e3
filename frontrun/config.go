package frontrun

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spitfirest/frontrunner/amm"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidNetworkConfig = errors.New("invalid network config")
	ErrUnknownNetwork       = errors.New("network is not configured")
	ErrInvalidParams        = errors.New("invalid parameters")
)

type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

type RouterConfig struct {
	Address string   `yaml:"address"`
	Factory string   `yaml:"factory"`
	Fee     *amm.Fee `yaml:"fee"`
}

// NetworkConfig is one entry of the networks file. Values are decimal ether strings.
type NetworkConfig struct {
	Routers          []RouterConfig `yaml:"routers"`
	WrappedNative    TokenConfig    `yaml:"wrapped_native"`
	AllowedTokens    []TokenConfig  `yaml:"allowed_tokens"`
	MinTriggerValue  string         `yaml:"min_trigger_value"`
	MaxFrontrunValue string         `yaml:"max_frontrun_value"`
	FrontrunUnit     string         `yaml:"frontrun_unit"`
}

type Token struct {
	Address  common.Address
	Decimals int32
}

type Router struct {
	Address common.Address
	Factory common.Address
	Fee     amm.Fee
}

// Network is a validated NetworkConfig.
type Network struct {
	ChainID          uint64
	Routers          []Router
	WrappedNative    Token
	AllowedTokens    map[common.Address]Token
	MinTriggerValue  *big.Int
	MaxFrontrunValue *big.Int
	FrontrunUnit     *common.Address
}

// LoadNetworks parses a networks file keyed by chain id.
func LoadNetworks(file string) (map[uint64]NetworkConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var networks map[uint64]NetworkConfig
	if err := yaml.Unmarshal(data, &networks); err != nil {
		return nil, err
	}
	return networks, nil
}

// ResolveNetwork picks and validates the entry for chainID.
func ResolveNetwork(networks map[uint64]NetworkConfig, chainID uint64) (*Network, error) {
	cfg, ok := networks[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain id %d", ErrUnknownNetwork, chainID)
	}
	return cfg.Resolve(chainID)
}

func (c NetworkConfig) Resolve(chainID uint64) (*Network, error) {
	n := &Network{
		ChainID:       chainID,
		AllowedTokens: make(map[common.Address]Token, len(c.AllowedTokens)),
	}
	if len(c.Routers) == 0 {
		return nil, fmt.Errorf("%w: no routers", ErrInvalidNetworkConfig)
	}
	for _, rc := range c.Routers {
		router, err := parseAddress("router", rc.Address)
		if err != nil {
			return nil, err
		}
		factory, err := parseAddress("factory", rc.Factory)
		if err != nil {
			return nil, err
		}
		fee := amm.DefaultFee
		if rc.Fee != nil {
			fee = *rc.Fee
		}
		if err := fee.Validate(); err != nil {
			return nil, fmt.Errorf("%w: router %s: %v", ErrInvalidNetworkConfig, rc.Address, err)
		}
		n.Routers = append(n.Routers, Router{Address: router, Factory: factory, Fee: fee})
	}

	var err error
	if n.WrappedNative, err = c.WrappedNative.resolve("wrapped_native"); err != nil {
		return nil, err
	}
	for _, tc := range c.AllowedTokens {
		token, err := tc.resolve("allowed_tokens")
		if err != nil {
			return nil, err
		}
		n.AllowedTokens[token.Address] = token
	}

	if n.MinTriggerValue, err = amm.ParseUnits(c.MinTriggerValue, 18); err != nil {
		return nil, fmt.Errorf("%w: min_trigger_value: %v", ErrInvalidNetworkConfig, err)
	}
	if n.MaxFrontrunValue, err = amm.ParseUnits(c.MaxFrontrunValue, 18); err != nil {
		return nil, fmt.Errorf("%w: max_frontrun_value: %v", ErrInvalidNetworkConfig, err)
	}
	if n.MaxFrontrunValue.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max_frontrun_value must be positive", ErrInvalidNetworkConfig)
	}

	if c.FrontrunUnit != "" {
		unit, err := parseAddress("frontrun_unit", c.FrontrunUnit)
		if err != nil {
			return nil, err
		}
		n.FrontrunUnit = &unit
	}
	return n, nil
}

func (n *Network) AllowedTokenAddresses() []common.Address {
	out := make([]common.Address, 0, len(n.AllowedTokens))
	for addr := range n.AllowedTokens {
		out = append(out, addr)
	}
	return out
}

func (c TokenConfig) resolve(field string) (Token, error) {
	addr, err := parseAddress(field, c.Address)
	if err != nil {
		return Token{}, err
	}
	if c.Decimals < 0 || c.Decimals > 77 {
		return Token{}, fmt.Errorf("%w: %s: decimals %d", ErrInvalidNetworkConfig, field, c.Decimals)
	}
	return Token{Address: addr, Decimals: c.Decimals}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s: %q is not an address", ErrInvalidNetworkConfig, field, s)
	}
	return common.HexToAddress(s), nil
}

// Params are the trading parameters taken from the environment.
type Params struct {
	MinSlippagePercent         decimal.Decimal
	MaxFrontrunSlippagePercent decimal.Decimal
	MaxEthToSendPercent        decimal.Decimal
	GasPremium                 *big.Int
	GasLimit                   uint64
	CancelGasBumpPercent       decimal.Decimal
	// zero disables the check
	GasPriceTolerance *big.Int
}

// ParamsConfig holds the raw environment strings, gas values are in gwei.
type ParamsConfig struct {
	MinSlippagePercent         string
	MaxFrontrunSlippagePercent string
	MaxEthToSendPercent        string
	GasPremiumGwei             string
	GasLimit                   uint64
	CancelGasBumpPercent       string
	GasPriceToleranceGwei      string
}

func (c ParamsConfig) Parse() (Params, error) {
	var (
		p   Params
		err error
	)
	percent := func(name, s string, max int64) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
		if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(max)) {
			return decimal.Zero, fmt.Errorf("%w: %s out of range: %s", ErrInvalidParams, name, s)
		}
		return d, nil
	}
	gwei := func(name, s string) (*big.Int, error) {
		v, err := amm.ParseUnits(s, 9)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s is negative", ErrInvalidParams, name)
		}
		return v, nil
	}

	if p.MinSlippagePercent, err = percent("MIN_SLIPPAGE_PERCENTAGE", c.MinSlippagePercent, 200); err != nil {
		return p, err
	}
	if p.MaxFrontrunSlippagePercent, err = percent("MAX_FRONTRUN_SLIPPAGE_PERCENTAGE", c.MaxFrontrunSlippagePercent, 100); err != nil {
		return p, err
	}
	if p.MaxEthToSendPercent, err = percent("MAX_ETH_TO_SEND_PERCENTAGE", c.MaxEthToSendPercent, 100); err != nil {
		return p, err
	}
	if p.CancelGasBumpPercent, err = percent("CANCEL_GAS_BUMP_PERCENT", c.CancelGasBumpPercent, 100); err != nil {
		return p, err
	}
	if p.GasPremium, err = gwei("GAS_PREMIUM_GWEI", c.GasPremiumGwei); err != nil {
		return p, err
	}
	if p.GasPriceTolerance, err = gwei("GAS_PRICE_TOLERANCE_GWEI", c.GasPriceToleranceGwei); err != nil {
		return p, err
	}
	if c.GasLimit < 21000 {
		return p, fmt.Errorf("%w: GAS_LIMIT %d is below 21000", ErrInvalidParams, c.GasLimit)
	}
	p.GasLimit = c.GasLimit
	return p, nil
}
