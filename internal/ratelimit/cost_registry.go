package ratelimit

import (
	"sync"
)

// Default CU costs for the RPC methods the balance provider issues.
const (
	DefaultCUCost = 20 // Default cost for unknown methods

	CostEthGetBalance = 19
	CostEthCall       = 26
)

// RPC method names
const (
	MethodEthGetBalance = "eth_getBalance"
	MethodEthCall       = "eth_call"
)

// CUCostRegistry maps RPC methods to their CU costs.
// It is safe for concurrent use.
type CUCostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CUCostRegistryConfig holds configuration for the registry.
type CUCostRegistryConfig struct {
	// DefaultCost is the CU cost for unknown methods. Zero uses DefaultCUCost.
	DefaultCost int

	// Overrides replaces the built-in cost of specific methods.
	Overrides map[string]int
}

// NewCUCostRegistry creates a registry. A nil cfg uses the defaults.
func NewCUCostRegistry(cfg *CUCostRegistryConfig) *CUCostRegistry {
	costs := map[string]int{
		MethodEthGetBalance: CostEthGetBalance,
		MethodEthCall:       CostEthCall,
	}
	defaultCost := DefaultCUCost

	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for method, cost := range cfg.Overrides {
			if cost > 0 {
				costs[method] = cost
			}
		}
	}

	return &CUCostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// GetCost returns the CU cost for an RPC method
func (r *CUCostRegistry) GetCost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates a method's cost; non-positive values are ignored
func (r *CUCostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[method] = cost
}
