package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/ratelimit"
	"github.com/autopilot-engine/internal/types"
)

// Monitorer produces a monitor snapshot for one wallet
type Monitorer interface {
	Monitor(ctx context.Context, wallet string) (*models.MonitorSnapshot, error)
}

// MonitorWorker polls a fixed set of wallets and logs their alerts
type MonitorWorker struct {
	monitor      Monitorer
	wallets      []string
	pollInterval time.Duration
	logger       *logging.Logger
	running      bool
	mu           sync.RWMutex
	stopCh       chan struct{}
	stopOnce     *sync.Once
	doneCh       chan struct{}
	lastPollTime time.Time
	lastAlerts   map[string][]models.Alert
	pollFailures int
}

// MonitorWorkerConfig holds configuration for a monitor worker
type MonitorWorkerConfig struct {
	Monitor      Monitorer
	Wallets      []string
	PollInterval time.Duration
	Logger       *logging.Logger
}

// MonitorWorkerStatus is a point-in-time view of the worker
type MonitorWorkerStatus struct {
	Running             bool                      `json:"running"`
	LastPollTime        time.Time                 `json:"lastPollTime"`
	WalletsTracked      int                       `json:"walletsTracked"`
	PollIntervalSeconds int                       `json:"pollIntervalSeconds"`
	PollFailures        int                       `json:"pollFailures"`
	Alerts              map[string][]models.Alert `json:"alerts"`
}

// NewMonitorWorker creates a new monitor worker
func NewMonitorWorker(cfg *MonitorWorkerConfig) (*MonitorWorker, error) {
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if len(cfg.Wallets) == 0 {
		return nil, fmt.Errorf("at least one wallet is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	if pollInterval < 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", pollInterval)
	}

	seen := make(map[string]bool, len(cfg.Wallets))
	wallets := make([]string, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		key := types.NormalizeWallet(w)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		wallets = append(wallets, key)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &MonitorWorker{
		monitor:      cfg.Monitor,
		wallets:      wallets,
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "monitor_worker"),
		lastAlerts:   make(map[string][]models.Alert),
	}, nil
}

// Start runs one poll immediately and then one per interval. A stopped
// worker can be started again.
func (w *MonitorWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("monitor worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stopOnce = &sync.Once{}
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Infof("Starting monitor worker for %d wallets with poll interval %v", len(w.wallets), w.pollInterval)
	go w.pollLoop(ctx, stopCh, doneCh)
	return nil
}

// Stop signals the poll loop and waits for it to finish. When ctx expires
// first the loop keeps winding down and Stop may be called again to wait.
func (w *MonitorWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("monitor worker is not running")
	}
	stopCh, stopOnce, doneCh := w.stopCh, w.stopOnce, w.doneCh
	w.mu.Unlock()

	stopOnce.Do(func() { close(stopCh) })

	select {
	case <-doneCh:
		w.logger.Info("Monitor worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Monitor worker stop timed out")
		return ctx.Err()
	}
}

func (w *MonitorWorker) pollLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.doneCh == doneCh {
			w.running = false
		}
		w.mu.Unlock()
		close(doneCh)
	}()

	// monitor reads yield RPC budget to the order path
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityLow)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Monitor worker context cancelled")
			return
		case <-stopCh:
			w.logger.Debug("Monitor worker stop signal received")
			return
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce monitors every wallet once and returns how many polls failed.
// A failing wallet does not stop the others.
func (w *MonitorWorker) PollOnce(ctx context.Context) int {
	failures := 0
	alerts := make(map[string][]models.Alert, len(w.wallets))

	for _, wallet := range w.wallets {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithWallet(wallet)

		snap, err := w.monitor.Monitor(ctx, wallet)
		if err != nil {
			failures++
			logger.WithError(err).Warn("Monitor poll failed")
			continue
		}
		alerts[wallet] = snap.Alerts

		for _, a := range snap.Alerts {
			entry := logger.WithFields(map[string]interface{}{
				"code":     a.Code,
				"severity": string(a.Severity),
			})
			switch a.Severity {
			case types.SeverityCritical:
				entry.Error(a.Message)
			case types.SeverityWarning:
				entry.Warn(a.Message)
			default:
				entry.Info(a.Message)
			}
		}
	}

	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.pollFailures += failures
	for wallet, a := range alerts {
		w.lastAlerts[wallet] = a
	}
	w.mu.Unlock()

	return failures
}

// GetStatus returns the current worker status
func (w *MonitorWorker) GetStatus() *MonitorWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	alerts := make(map[string][]models.Alert, len(w.lastAlerts))
	for wallet, a := range w.lastAlerts {
		alerts[wallet] = append([]models.Alert(nil), a...)
	}
	return &MonitorWorkerStatus{
		Running:             w.running,
		LastPollTime:        w.lastPollTime,
		WalletsTracked:      len(w.wallets),
		PollIntervalSeconds: int(w.pollInterval.Seconds()),
		PollFailures:        w.pollFailures,
		Alerts:              alerts,
	}
}
