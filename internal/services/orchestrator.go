package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

// ErrTickInProgress is returned when a tick is requested while one runs
var ErrTickInProgress = errors.New("tick already in progress")

type TickState string

const (
	StateIdle       TickState = "idle"
	StateFetching   TickState = "fetching"
	StatePersisting TickState = "persisting"
	StateEvaluating TickState = "evaluating"
	StateDone       TickState = "done"
)

// DeviceSource lists the devices to evaluate on each tick
type DeviceSource interface {
	List(ctx context.Context) ([]domain.DeviceSubscription, error)
}

// OrchestratorConfig tunes the tick loop
type OrchestratorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// TickReport summarizes one tick
type TickReport struct {
	StartedAt      time.Time        `json:"startedAt"`
	FinishedAt     time.Time        `json:"finishedAt"`
	Source         string           `json:"source"`
	Condition      domain.Condition `json:"condition"`
	Persisted      []string         `json:"persisted"`
	Devices        int              `json:"devices"`
	DevicesSkipped int              `json:"devicesSkipped"`
	Events         int              `json:"events"`
	Sent           int              `json:"sent"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
}

// Orchestrator runs fetch, persist, evaluate and dispatch as one tick
type Orchestrator struct {
	aggregator *Aggregator
	store      *SnapshotStore
	devices    DeviceSource
	notifier   *Notifier
	clock      domain.Clock
	ids        domain.IDGenerator
	cfg        OrchestratorConfig
	log        *zap.Logger

	mu sync.Mutex
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	aggregator *Aggregator,
	store *SnapshotStore,
	devices DeviceSource,
	notifier *Notifier,
	clock domain.Clock,
	ids domain.IDGenerator,
	cfg OrchestratorConfig,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		aggregator: aggregator,
		store:      store,
		devices:    devices,
		notifier:   notifier,
		clock:      clock,
		ids:        ids,
		cfg:        cfg.withDefaults(),
		log:        log.Named("orchestrator"),
	}
}

// Run ticks immediately and then on every interval until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunTick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
			o.log.Warn("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunTick executes one tick under the configured timeout
func (o *Orchestrator) RunTick(ctx context.Context) (TickReport, error) {
	if !o.mu.TryLock() {
		return TickReport{}, ErrTickInProgress
	}
	defer o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	report := TickReport{StartedAt: o.clock.Now(), Persisted: []string{}}
	defer o.state(StateIdle)

	o.state(StateFetching)
	previous, err := o.store.Baseline(ctx)
	if err != nil {
		o.log.Warn("evaluation baseline unavailable", zap.Error(err))
	}
	latest, err := o.store.Latest(ctx)
	if err != nil {
		o.log.Warn("previous snapshot unavailable", zap.Error(err))
	}
	current, err := o.aggregator.Aggregate(ctx, latest)
	if err != nil {
		report.FinishedAt = o.clock.Now()
		return report, fmt.Errorf("aggregate: %w", err)
	}
	report.Source = current.Source
	report.Condition = current.Condition

	o.state(StatePersisting)
	if written := o.store.Persist(ctx, current).Written; written != nil {
		report.Persisted = written
	}
	o.store.SaveBaseline(ctx, current)

	devices, err := o.devices.List(ctx)
	if err != nil {
		report.FinishedAt = o.clock.Now()
		return report, fmt.Errorf("list devices: %w", err)
	}
	report.Devices = len(devices)

	o.state(StateEvaluating, zap.Int("devices", len(devices)))
	for i, d := range devices {
		if ctx.Err() != nil {
			report.DevicesSkipped += len(devices) - i
			o.log.Warn("tick deadline reached, remaining devices skipped", zap.Error(ctx.Err()))
			break
		}
		if err := o.processDevice(ctx, d, previous, current, &report); err != nil {
			report.DevicesSkipped++
			o.log.Warn("device skipped", zap.String("install_id", d.InstallID), zap.Error(err))
		}
	}

	report.FinishedAt = o.clock.Now()
	o.state(StateDone,
		zap.Int("events", report.Events),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("devices_skipped", report.DevicesSkipped))
	return report, nil
}

func (o *Orchestrator) state(s TickState, fields ...zap.Field) {
	o.log.Info("tick state", append([]zap.Field{zap.String("state", string(s))}, fields...)...)
}

func (o *Orchestrator) processDevice(ctx context.Context, d domain.DeviceSubscription, previous, current *domain.Snapshot, report *TickReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	prefs, err := d.DecodePreferences()
	if err != nil {
		return fmt.Errorf("decode preferences: %w", err)
	}

	events := Evaluate(EvaluationInput{
		Previous:           previous,
		Current:            current,
		Preferences:        prefs,
		Timezone:           d.Timezone,
		Now:                o.clock.Now(),
		LastNotificationAt: d.LastNotificationAt,
	}, o.ids)
	report.Events += len(events)

	for _, e := range events {
		entry := o.notifier.Deliver(ctx, d, e)
		switch entry.Status {
		case domain.StatusSent:
			report.Sent++
		case domain.StatusSkipped:
			report.Skipped++
		case domain.StatusFailed:
			report.Failed++
		}
	}
	return nil
}
