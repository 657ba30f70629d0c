package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/feed"
	"github.com/Maaku050/Sentrilock/internal/metrics"
	"github.com/Maaku050/Sentrilock/internal/model"
)

// Dispatcher receives confirmed detections. The dispatch package implements
// it; the interface lives here so the evaluation loop stays decoupled from
// delivery concerns.
type Dispatcher interface {
	Dispatch(ctx context.Context, res *model.DetectionResult)
}

// Engine runs the evaluation loop: one goroutine consumes window snapshots
// and feed errors, feeds the detector, and hands confirmed detections to the
// dispatcher. Snapshots arrive conflated, so the loop always evaluates the
// freshest window even when it falls behind.
type Engine struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	monitor    *Monitor
	detector   *Detector
	dispatcher Dispatcher
	cfg        atomic.Value
	mu         sync.Mutex
	started    time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, monitor *Monitor, dispatcher Dispatcher) *Engine {
	e := &Engine{
		logger:     logger,
		metrics:    m,
		monitor:    monitor,
		detector:   NewDetector(cfg.Detection.WindowSize, cfg.Detection.HistorySize),
		dispatcher: dispatcher,
		started:    time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.mu.Lock()
	e.detector.Resize(cfg.Detection.WindowSize, cfg.Detection.HistorySize)
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("detection config updated",
			"window_size", cfg.Detection.WindowSize,
			"history_size", cfg.Detection.HistorySize,
		)
	}
}

func (e *Engine) Config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Start(ctx context.Context, snaps <-chan feed.Snapshot, errs <-chan error) {
	go func() {
		for {
			select {
			case snap := <-snaps:
				e.ProcessSnapshot(ctx, snap)
			case err := <-errs:
				e.handleFeedError(err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessSnapshot evaluates one window. Any delivered snapshot proves the
// feed is alive, so monitoring flips healthy before evaluation.
func (e *Engine) ProcessSnapshot(ctx context.Context, snap feed.Snapshot) *model.DetectionResult {
	e.setMonitoring(true)

	e.mu.Lock()
	res := e.detector.Evaluate(snap.Entries)
	e.mu.Unlock()
	if res == nil {
		return nil
	}

	e.monitor.Record(res)
	if e.logger != nil {
		e.logger.Warn("consecutive unauthorized attempts detected",
			"room_id", res.RoomID,
			"attempts", len(res.Attempts),
			"key", res.Key,
		)
	}
	if e.metrics != nil {
		e.metrics.DetectionsTotal.Inc()
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, res)
	}
	return res
}

func (e *Engine) handleFeedError(err error) {
	e.setMonitoring(false)
	if e.logger != nil {
		e.logger.Warn("feed unhealthy, monitoring degraded", "err", err)
	}
	if e.metrics != nil {
		e.metrics.FeedErrorsTotal.Inc()
	}
}

func (e *Engine) setMonitoring(v bool) {
	e.monitor.SetMonitoring(v)
	if e.metrics != nil {
		if v {
			e.metrics.Monitoring.Set(1)
		} else {
			e.metrics.Monitoring.Set(0)
		}
	}
}

// State reports the detector state machine position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detector.State()
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Reset clears the detector and presentation state, for the admin clear
// operation. The configured sizes survive.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.detector.Reset()
	e.mu.Unlock()
	e.monitor.Reset()
	if e.metrics != nil {
		e.metrics.Monitoring.Set(0)
	}
}
