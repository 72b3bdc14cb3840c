package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autopilot-engine/internal/circuitbreaker"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperSubmitter fills every order immediately at the analyzed price minus a
// flat fee. Orders never leave the process.
type PaperSubmitter struct {
	feeBps  decimal.Decimal
	latency time.Duration
	now     func() time.Time
}

// NewPaperSubmitter creates a paper submitter charging feeBps basis points
func NewPaperSubmitter(feeBps int) *PaperSubmitter {
	return &PaperSubmitter{
		feeBps: decimal.NewFromInt(int64(feeBps)),
		now:    time.Now,
	}
}

// SetLatency makes every submission wait d before filling
func (p *PaperSubmitter) SetLatency(d time.Duration) {
	p.latency = d
}

func (p *PaperSubmitter) Name() string { return "paper" }

// Submit simulates a fill. The result is denominated in the output mint when
// it is priced, otherwise it echoes the filled input amount.
func (p *PaperSubmitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, NewAdapterError(p.Name(), "Submit", fmt.Errorf("%w: %w", ErrProviderUnavailable, ctx.Err()), nil)
		}
	}

	fee := req.OrderValueUSD.Mul(p.feeBps).Div(decimal.NewFromInt(10000))
	result := req.Order.Amount
	if req.OutputUnitPriceUSD.IsPositive() {
		result = req.OrderValueUSD.Sub(fee).Div(req.OutputUnitPriceUSD)
	}

	return &SubmitResult{
		TxID:         "paper-" + uuid.NewString(),
		ResultAmount: result,
		FeeUSD:       fee,
		ConfirmedAt:  p.now().UTC(),
	}, nil
}

// HTTPSubmitterConfig configures an HTTPSubmitter
type HTTPSubmitterConfig struct {
	BaseURL string
	APIKey  string
	Breaker *circuitbreaker.CircuitBreaker
}

// HTTPSubmitter posts orders to an aggregator-style execution endpoint:
// POST {base}/orders and waits for the confirmation in the response.
// Submissions are never retried here; a duplicate fill is worse than a
// failed order.
type HTTPSubmitter struct {
	base    string
	apiKey  string
	hc      *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPSubmitter creates an HTTP submitter. The caller's context bounds each call.
func NewHTTPSubmitter(cfg HTTPSubmitterConfig) (*HTTPSubmitter, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("submission URL is required")
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("submitter"))
	}
	return &HTTPSubmitter{
		base:    base,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{},
		breaker: breaker,
	}, nil
}

func (s *HTTPSubmitter) Name() string { return "http" }

type submitOrderRequest struct {
	OrderID    string           `json:"orderId"`
	Strategy   string           `json:"strategy"`
	Side       string           `json:"side"`
	InputMint  string           `json:"inputMint"`
	OutputMint string           `json:"outputMint"`
	Amount     decimal.Decimal  `json:"amount"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	Wallet     string           `json:"wallet"`
	ValueUSD   decimal.Decimal  `json:"valueUsd"`
}

type submitOrderResponse struct {
	Status       string          `json:"status"` // confirmed | failed | pending
	TxID         string          `json:"txId"`
	ResultAmount decimal.Decimal `json:"resultAmount"`
	FeeUSD       decimal.Decimal `json:"feeUsd"`
	Error        string          `json:"error"`
}

// Submit posts the order and interprets the confirmation
func (s *HTTPSubmitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	payload, err := json.Marshal(submitOrderRequest{
		OrderID:    req.OrderID,
		Strategy:   string(req.Order.Strategy),
		Side:       string(req.Order.Side),
		InputMint:  req.Order.InputMint,
		OutputMint: req.Order.OutputMint,
		Amount:     req.Order.Amount,
		LimitPrice: req.Order.LimitPrice,
		Wallet:     req.Order.Wallet,
		ValueUSD:   req.OrderValueUSD,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	var (
		status int
		body   []byte
	)
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/orders", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.OrderID)
		if s.apiKey != "" {
			httpReq.Header.Set("X-API-Key", s.apiKey)
		}

		resp, err := s.hc.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		status = resp.StatusCode
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("HTTP error: %d - %s", status, string(body))
		}
		return nil
	})
	if err != nil {
		return nil, NewAdapterError(s.Name(), "Submit", fmt.Errorf("%w: %w", ErrProviderUnavailable, err), map[string]interface{}{
			"orderId": req.OrderID,
		})
	}

	if status != http.StatusOK {
		return nil, NewAdapterError(s.Name(), "Submit", ErrSubmissionUnconfirmed, map[string]interface{}{
			"orderId": req.OrderID,
			"status":  status,
			"body":    string(body),
		})
	}

	var out submitOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewAdapterError(s.Name(), "Submit", fmt.Errorf("%w: undecodable confirmation: %v", ErrSubmissionUnconfirmed, err), map[string]interface{}{
			"orderId": req.OrderID,
		})
	}
	if !strings.EqualFold(out.Status, "confirmed") {
		return nil, NewAdapterError(s.Name(), "Submit", ErrSubmissionUnconfirmed, map[string]interface{}{
			"orderId": req.OrderID,
			"status":  out.Status,
			"txId":    out.TxID,
			"reason":  out.Error,
		})
	}

	return &SubmitResult{
		TxID:         out.TxID,
		ResultAmount: out.ResultAmount,
		FeeUSD:       out.FeeUSD,
		ConfirmedAt:  time.Now().UTC(),
	}, nil
}
