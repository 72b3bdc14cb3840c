package api

import (
	"net/http"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/gorilla/mux"
)

// walletFromPath extracts and validates the {wallet} path variable. It
// writes the error response itself and returns ok=false on failure.
func walletFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := mux.Vars(r)["wallet"]
	if !adapter.ValidateAddress(wallet) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("wallet", "invalid wallet address"), nil)
		return "", false
	}
	return types.NormalizeWallet(wallet), true
}

// handleGetRiskLimits handles GET /api/wallets/{wallet}/risk/limits
func (s *Server) handleGetRiskLimits(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.risk.GetLimits(wallet))
}

// handleSetRiskLimits handles PUT /api/wallets/{wallet}/risk/limits
func (s *Server) handleSetRiskLimits(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletFromPath(w, r)
	if !ok {
		return
	}

	var limits models.RiskLimits
	if err := parseJSONBody(r, &limits); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeInvalidParameter, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	updated, err := s.risk.SetLimits(r.Context(), wallet, limits)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleGetBudgetState handles GET /api/wallets/{wallet}/risk/budget
func (s *Server) handleGetBudgetState(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletFromPath(w, r)
	if !ok {
		return
	}
	state, err := s.risk.BudgetState(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleAnalyzePortfolio handles GET /api/wallets/{wallet}/portfolio
func (s *Server) handleAnalyzePortfolio(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletFromPath(w, r)
	if !ok {
		return
	}
	portfolio, err := s.analyzer.Analyze(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, portfolio)
}

// handleMonitorPortfolio handles GET /api/wallets/{wallet}/monitor
func (s *Server) handleMonitorPortfolio(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletFromPath(w, r)
	if !ok {
		return
	}
	snapshot, err := s.monitor.Monitor(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}
