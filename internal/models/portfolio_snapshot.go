package models

import (
	"time"

	"github.com/autopilot-engine/internal/types"
)

// Alert is a single finding produced by the monitor
type Alert struct {
	Severity types.AlertSeverity `json:"severity"`
	Code     string              `json:"code"`
	Message  string              `json:"message"`
}

// MonitorSnapshot is an ephemeral health view of a wallet. It is recomputed
// on every call and never persisted.
type MonitorSnapshot struct {
	Portfolio   *Portfolio      `json:"portfolio"`
	Limits      RiskLimits      `json:"limits"`
	Budget      RiskBudgetState `json:"budget"`
	Alerts      []Alert         `json:"alerts"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
