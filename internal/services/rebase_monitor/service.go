// Package rebase_monitor triggers rebase signals on a schedule and records them.
package rebase_monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var _ inbound.HealthChecker = (*Service)(nil)

// Config holds configuration for the rebase monitor.
type Config struct {
	ProgramConfig solana.PublicKey
	PythPrice     solana.PublicKey
	HolderCount   solana.PublicKey

	Interval time.Duration

	Clock  outbound.Clock
	Logger *slog.Logger
}

// ConfigDefaults returns the defaults applied by NewService.
func ConfigDefaults() Config {
	return Config{
		Interval: time.Hour,
		Clock:    outbound.SystemClock{},
		Logger:   slog.Default(),
	}
}

// Service is the rebase monitor.
type Service struct {
	config  Config
	manager inbound.LiquidityManager
	rebases outbound.RebaseRepository
	events  outbound.EventSink

	ready   atomic.Bool
	healthy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a rebase monitor.
func NewService(config Config, manager inbound.LiquidityManager, rebases outbound.RebaseRepository, events outbound.EventSink) (*Service, error) {
	if manager == nil {
		return nil, fmt.Errorf("liquidity manager cannot be nil")
	}
	if rebases == nil {
		return nil, fmt.Errorf("rebase repository cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}
	if config.ProgramConfig.IsZero() || config.PythPrice.IsZero() || config.HolderCount.IsZero() {
		return nil, fmt.Errorf("config, price and holder count addresses are required")
	}

	defaults := ConfigDefaults()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:  config,
		manager: manager,
		rebases: rebases,
		events:  events,
		logger:  config.Logger.With("component", "rebase-monitor"),
	}, nil
}

// Start triggers once immediately and then every Interval.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.processLoop()
	s.logger.Info("rebase monitor started", "interval", s.config.Interval)
	return nil
}

// Stop stops the loop and waits for an in-flight trigger.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("rebase monitor stopped")
	return nil
}

func (s *Service) processLoop() {
	defer s.wg.Done()

	s.tick()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	if _, err := s.Trigger(s.ctx); err != nil {
		s.healthy.Store(false)
		s.logger.Error("rebase trigger failed", "error", err)
		return
	}
	s.ready.Store(true)
	s.healthy.Store(true)
}

// IsReady reports whether a signal has been recorded.
func (s *Service) IsReady() bool { return s.ready.Load() }

// IsHealthy reports whether the last trigger succeeded.
func (s *Service) IsHealthy() bool { return s.healthy.Load() }

// Trigger sends TriggerRebase, stores the signal and publishes it.
func (s *Service) Trigger(ctx context.Context) (*entity.RebaseRecord, error) {
	result, err := s.manager.TriggerRebase(ctx, inbound.TriggerRebaseRequest{
		Config:      s.config.ProgramConfig,
		PythPrice:   s.config.PythPrice,
		HolderCount: s.config.HolderCount,
	})
	if err != nil {
		return nil, fmt.Errorf("triggering rebase: %w", err)
	}

	record := &entity.RebaseRecord{
		Signature:  result.Signature,
		Config:     s.config.ProgramConfig,
		Signal:     result.Signal,
		RecordedAt: s.config.Clock.Now().UTC(),
	}
	// The count is informational; the signal is already final.
	if hc, err := s.manager.GetHolderCount(ctx, s.config.HolderCount); err != nil {
		s.logger.Warn("failed to read holder count", "error", err)
	} else {
		record.HolderCount = hc.Count
	}

	previous, err := s.rebases.LatestRebase(ctx, s.config.ProgramConfig)
	switch {
	case errors.Is(err, outbound.ErrAccountNotFound):
	case err != nil:
		s.logger.Warn("failed to load previous rebase", "error", err)
	case previous.Signal.ShrinkBP != record.Signal.ShrinkBP:
		s.logger.Info("shrink changed", "from", previous.Signal.ShrinkBP, "to", record.Signal.ShrinkBP)
	}

	if err := s.rebases.SaveRebase(ctx, record); err != nil {
		return nil, fmt.Errorf("saving rebase %s: %w", record.Signature, err)
	}

	event := outbound.RebaseSignalEvent{
		Config:    s.config.ProgramConfig.String(),
		ShrinkBP:  record.Signal.ShrinkBP,
		Price:     record.Signal.Price.String(),
		Signature: record.Signature.String(),
		At:        record.RecordedAt,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		return record, fmt.Errorf("publishing rebase signal: %w", err)
	}

	s.logger.Info("rebase signal recorded",
		"signature", record.Signature,
		"shrinkBp", record.Signal.ShrinkBP,
		"price", record.Signal.Price,
		"holders", record.HolderCount,
	)
	return record, nil
}
