package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/autopilot-engine/internal/circuitbreaker"
	"github.com/autopilot-engine/internal/config"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/retry"
	"github.com/autopilot-engine/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// ChainReader is the subset of the go-ethereum client the balance provider needs
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

// DialChain connects to an EVM JSON-RPC endpoint
func DialChain(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, NewAdapterError("evm", "Dial", err, map[string]interface{}{
			"rpcURL": rpcURL,
		})
	}
	return client, nil
}

// ValidateAddress checks if address is a 0x-prefixed 20-byte hex address
func ValidateAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// EVMBalanceProviderConfig configures an EVMBalanceProvider
type EVMBalanceProviderConfig struct {
	Client         ChainReader
	NativeSymbol   string
	NativeDecimals int
	Tokens         []config.TokenConfig
	// CallTimeout bounds each read attempt. Zero means no extra bound.
	CallTimeout time.Duration
	Retry       *retry.Config
	Breaker     *circuitbreaker.CircuitBreaker
}

// EVMBalanceProvider reads native and ERC-20 balances over JSON-RPC
type EVMBalanceProvider struct {
	client         ChainReader
	nativeSymbol   string
	nativeDecimals int
	tokens         []config.TokenConfig
	callTimeout    time.Duration
	retry          *retry.Config
	breaker        *circuitbreaker.CircuitBreaker
}

// NewEVMBalanceProvider creates a balance provider
func NewEVMBalanceProvider(cfg EVMBalanceProviderConfig) (*EVMBalanceProvider, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("chain client cannot be nil")
	}
	for _, token := range cfg.Tokens {
		if !ValidateAddress(token.Address) {
			return nil, fmt.Errorf("invalid token address %q: %w", token.Address, ErrInvalidAddress)
		}
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if retryCfg.ShouldRetry == nil {
		withFilter := *retryCfg
		withFilter.ShouldRetry = isTransient
		retryCfg = &withFilter
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("evm-balances"))
	}
	symbol := cfg.NativeSymbol
	if symbol == "" {
		symbol = "ETH"
	}
	decimals := cfg.NativeDecimals
	if decimals == 0 {
		decimals = 18
	}

	return &EVMBalanceProvider{
		client:         cfg.Client,
		nativeSymbol:   symbol,
		nativeDecimals: decimals,
		tokens:         cfg.Tokens,
		callTimeout:    cfg.CallTimeout,
		retry:          retryCfg,
		breaker:        breaker,
	}, nil
}

// GetBalances reads the native balance and every configured token balance.
// The whole read is retried as a unit so a result is never partial.
func (p *EVMBalanceProvider) GetBalances(ctx context.Context, wallet string) ([]TokenBalance, error) {
	if !ValidateAddress(wallet) {
		return nil, NewAdapterError("evm", "GetBalances", ErrInvalidAddress, map[string]interface{}{
			"wallet": wallet,
		})
	}
	owner := common.HexToAddress(wallet)

	var balances []TokenBalance
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, p.retry, func(ctx context.Context, attempt int) error {
			result, err := p.readAll(ctx, owner)
			if err != nil {
				logging.FromContext(ctx).WithWallet(wallet).WithFields(map[string]interface{}{
					"attempt": attempt,
					"error":   err.Error(),
				}).Debug("Balance read failed")
				return err
			}
			balances = result
			return nil
		})
	})
	if err != nil {
		return nil, NewAdapterError("evm", "GetBalances", fmt.Errorf("%w: %w", ErrProviderUnavailable, err), map[string]interface{}{
			"wallet": wallet,
		})
	}
	return balances, nil
}

func (p *EVMBalanceProvider) readAll(ctx context.Context, owner common.Address) ([]TokenBalance, error) {
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	native, err := p.client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance: %w", err)
	}

	balances := make([]TokenBalance, 0, len(p.tokens)+1)
	balances = append(balances, TokenBalance{
		Mint:   types.NativeMint,
		Symbol: p.nativeSymbol,
		Amount: scaleAmount(native, p.nativeDecimals),
	})

	for _, token := range p.tokens {
		raw, err := p.tokenBalance(ctx, common.HexToAddress(token.Address), owner)
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", token.Symbol, err)
		}
		balances = append(balances, TokenBalance{
			Mint:   strings.ToLower(token.Address),
			Symbol: token.Symbol,
			Amount: scaleAmount(raw, token.Decimals),
		})
	}
	return balances, nil
}

func (p *EVMBalanceProvider) tokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("decode balanceOf: got %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode balanceOf: unexpected type %T", values[0])
	}
	return balance, nil
}

func scaleAmount(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)) // #nosec G115 - decimals come from config
}

// isTransient determines if an error is worth another attempt
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Rate limit errors
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}
