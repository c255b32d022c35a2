package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"stablecoin-transfers/internal/domain"
)

// TokenEntry is one monitored token in the registry.
type TokenEntry struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals *int   `yaml:"decimals,omitempty"`
}

// ChainTokens lists a chain's tokens and the symbols skipped by default.
type ChainTokens struct {
	Tokens  []TokenEntry `yaml:"tokens"`
	Exclude []string     `yaml:"exclude"`
}

// Registry maps chains to their monitored tokens.
type Registry struct {
	Chains map[domain.Chain]ChainTokens `yaml:"chains"`
}

func decimals(n int) *int { return &n }

// DefaultRegistry returns the built-in token list. USDC and USDT are
// excluded by default on both chains; their volume dwarfs the rest.
func DefaultRegistry() *Registry {
	return &Registry{Chains: map[domain.Chain]ChainTokens{
		domain.ChainEthereum: {
			Tokens: []TokenEntry{
				{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: decimals(6)},
				{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: decimals(6)},
				{Symbol: "EURC", Address: "0x1aBaEA1f7C830bD89Acc67eC4af516284b1bC33c", Decimals: decimals(6)},
				{Symbol: "EURS", Address: "0xdB25f211AB05b1c97D595516F45794528a807ad8", Decimals: decimals(2)},
				{Symbol: "tGBP", Address: "0x00000000441378008EA67F4284A57932B1c000a5"},
				{Symbol: "GBPT", Address: "0x86B4dBE5D203e634a12364C0e428fa242A3FbA98"},
			},
			Exclude: []string{"USDC", "USDT"},
		},
		domain.ChainSolana: {
			Tokens: []TokenEntry{
				{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: decimals(6)},
				{Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: decimals(6)},
				{Symbol: "EURC", Address: "HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr", Decimals: decimals(6)},
				{Symbol: "VGBP", Address: "5H4voZhzySsVvwVYDAKku8MZGuYBC7cXaBKDPW4YHWW1"},
			},
			Exclude: []string{"USDC", "USDT"},
		},
	}}
}

// LoadRegistry reads and validates a YAML registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse token registry: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks chains, addresses and decimals of every entry.
func (r *Registry) Validate() error {
	for chain, ct := range r.Chains {
		if !chain.IsValid() {
			return fmt.Errorf("token registry: unsupported chain %q", chain)
		}
		seen := make(map[string]bool, len(ct.Tokens))
		for _, t := range ct.Tokens {
			if t.Symbol == "" {
				return fmt.Errorf("token registry: %s token %s has no symbol", chain, t.Address)
			}
			if seen[t.Symbol] {
				return fmt.Errorf("token registry: duplicate %s symbol %s", chain, t.Symbol)
			}
			seen[t.Symbol] = true
			if err := ValidateAddress(chain, t.Address); err != nil {
				return fmt.Errorf("token registry: %s %s: %w", chain, t.Symbol, err)
			}
			if t.Decimals != nil && (*t.Decimals < 0 || *t.Decimals > domain.MaxDecimals) {
				return fmt.Errorf("token registry: %s %s: decimals %d out of range", chain, t.Symbol, *t.Decimals)
			}
		}
	}
	return nil
}

// ChainList returns the configured chains in a stable order.
func (r *Registry) ChainList() []domain.Chain {
	out := make([]domain.Chain, 0, len(r.Chains))
	for chain := range r.Chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tokens returns chain's tokens. Excluded symbols are dropped unless
// includeExcluded is set; a non-empty only keeps the listed symbols.
func (r *Registry) Tokens(chain domain.Chain, includeExcluded bool, only ...string) []domain.Token {
	ct, ok := r.Chains[chain]
	if !ok {
		return nil
	}

	excluded := make(map[string]bool, len(ct.Exclude))
	for _, s := range ct.Exclude {
		excluded[s] = true
	}
	wanted := make(map[string]bool, len(only))
	for _, s := range only {
		wanted[s] = true
	}

	var out []domain.Token
	for _, t := range ct.Tokens {
		if len(wanted) > 0 {
			if !wanted[t.Symbol] {
				continue
			}
		} else if excluded[t.Symbol] && !includeExcluded {
			continue
		}
		out = append(out, domain.Token{Symbol: t.Symbol, Chain: chain, Address: t.Address, Decimals: t.Decimals})
	}
	return out
}

// ValidateAddress checks address syntax for chain: 32-byte base58 keys on
// Solana, 20-byte hex on EVM chains.
func ValidateAddress(chain domain.Chain, address string) error {
	switch {
	case chain == domain.ChainSolana:
		raw, err := base58.Decode(address)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("invalid solana address %q", address)
		}
	case chain.IsEVM():
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid evm address %q", address)
		}
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
	return nil
}
