package api

import (
	"net/http"
	"strconv"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
)

// ExecuteOrderRequest is the body of POST /api/orders
type ExecuteOrderRequest struct {
	Order models.StrategyOrder `json:"order"`
	// Portfolio is analyzed fresh when omitted
	Portfolio *models.Portfolio `json:"portfolio,omitempty"`
}

// ExecutionLogResponse is the body of GET /api/executions
type ExecutionLogResponse struct {
	Executions []models.ExecutedOrder `json:"executions"`
	Count      int                    `json:"count"`
}

// handleExecuteOrder handles POST /api/orders
func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req ExecuteOrderRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeInvalidParameter, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	portfolio := req.Portfolio
	if portfolio == nil {
		if !adapter.ValidateAddress(req.Order.Wallet) {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("order.wallet", "invalid wallet address"), nil)
			return
		}
		var err error
		portfolio, err = s.analyzer.Analyze(r.Context(), req.Order.Wallet)
		if err != nil {
			respondServiceError(w, r, err, nil)
			return
		}
	}

	rec, err := s.execution.Execute(r.Context(), req.Order, portfolio)
	if err != nil {
		respondServiceError(w, r, err, rec)
		return
	}

	// rejected and filled orders are both normal outcomes
	respondJSON(w, http.StatusOK, rec)
}

// handleGetExecutionLog handles GET /api/executions?strategy=&limit=
func (s *Server) handleGetExecutionLog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	strategy := types.StrategyTag(query.Get("strategy"))

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("limit", "must be a non-negative integer"), nil)
			return
		}
		limit = parsed
	}

	records, err := s.execution.GetExecutionLog(r.Context(), strategy, limit)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}

	respondJSON(w, http.StatusOK, ExecutionLogResponse{
		Executions: records,
		Count:      len(records),
	})
}

// handleGetExecutionStats handles GET /api/executions/stats
func (s *Server) handleGetExecutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.execution.GetExecutionStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
