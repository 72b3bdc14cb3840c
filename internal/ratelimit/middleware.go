package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/autopilot-engine/internal/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultMaxWait is the default max time to wait for budget
const DefaultMaxWait = 5 * time.Second

// ErrMaxWaitExceeded is returned when the maximum wait time for budget is exceeded.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for rate limit budget")

// EthClient is the set of RPC reads that are metered
type EthClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// RateLimitedClient wraps an RPC client and waits for CU budget before each
// call. The pool is chosen from the priority tagged on the call's context.
type RateLimitedClient struct {
	underlying   EthClient
	tracker      *CUBudgetTracker
	costRegistry *CUCostRegistry
	maxWait      time.Duration
}

// RateLimitedClientConfig holds configuration for the rate-limited client.
type RateLimitedClientConfig struct {
	Client       EthClient
	Tracker      *CUBudgetTracker
	CostRegistry *CUCostRegistry // nil uses the default costs
	// MaxWait bounds the wait for budget. Default: 5s.
	MaxWait time.Duration
}

// NewRateLimitedClient creates a rate-limited RPC client.
func NewRateLimitedClient(cfg *RateLimitedClientConfig) (*RateLimitedClient, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("underlying client is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("budget tracker is required")
	}

	costs := cfg.CostRegistry
	if costs == nil {
		costs = NewCUCostRegistry(nil)
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}

	return &RateLimitedClient{
		underlying:   cfg.Client,
		tracker:      cfg.Tracker,
		costRegistry: costs,
		maxWait:      maxWait,
	}, nil
}

// waitForBudget blocks until budget is available, ctx is done or maxWait elapses
func (c *RateLimitedClient) waitForBudget(ctx context.Context, method string) error {
	cu := c.costRegistry.GetCost(method)
	priority := PriorityFromContext(ctx)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"component": "rpc_ratelimit",
		"method":    method,
		"priority":  priority.String(),
		"cu":        cu,
	})

	start := time.Now()
	deadline := start.Add(c.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, waitTime := c.tracker.TryConsume(ctx, cu, priority)
		if allowed {
			if err := c.tracker.RecordMethodUsage(ctx, method, cu); err != nil {
				logger.WithError(err).Debug("Failed to record method usage")
			}
			return nil
		}

		if time.Now().Add(waitTime).After(deadline) {
			logger.WithField("waited", time.Since(start).String()).Warn("Max wait exceeded for RPC budget")
			return fmt.Errorf("%s: %w", method, ErrMaxWaitExceeded)
		}

		logger.WithField("wait", waitTime.String()).Debug("Waiting for RPC budget")

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// BalanceAt wraps eth_getBalance with rate limiting
func (c *RateLimitedClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := c.waitForBudget(ctx, MethodEthGetBalance); err != nil {
		return nil, err
	}
	return c.underlying.BalanceAt(ctx, account, blockNumber)
}

// CallContract wraps eth_call with rate limiting
func (c *RateLimitedClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.waitForBudget(ctx, MethodEthCall); err != nil {
		return nil, err
	}
	return c.underlying.CallContract(ctx, call, blockNumber)
}
