// Package order_tracker mirrors whale orders from the cluster into storage.
//
// Each poll lists every order account, upserts the snapshots, announces
// orders whose next tranche is due and, when a bucket is configured, archives
// the poll as a gzip JSON object.
package order_tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var (
	_ inbound.HealthChecker = (*Service)(nil)
	_ inbound.OrderQuery    = (*Service)(nil)
)

// Config holds configuration for the order tracker.
type Config struct {
	// ProgramConfig is the config account whose tranche interval gates orders.
	ProgramConfig solana.PublicKey

	PollInterval time.Duration

	// Reannounce is how long a due order stays quiet before it is announced
	// again. Keepers may drop requests; this bounds how long an order stalls.
	Reannounce time.Duration

	// MaxTracked bounds how many announced orders are remembered. Orders
	// whose accounts were closed drop out once the cache is full.
	MaxTracked int

	// Bucket enables snapshot archiving when set.
	Bucket string
	Prefix string

	Metrics outbound.MetricsRecorder
	Clock   outbound.Clock
	Logger  *slog.Logger
}

// ConfigDefaults returns the defaults applied by NewService.
func ConfigDefaults() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Reannounce:   10 * time.Minute,
		MaxTracked:   10_000,
		Prefix:       "order-snapshots",
		Clock:        outbound.SystemClock{},
		Logger:       slog.Default(),
	}
}

type announcement struct {
	lastExecuted int64
	at           time.Time
}

// Service is the order tracker.
type Service struct {
	config  Config
	manager inbound.LiquidityManager
	orders  outbound.OrderRepository
	events  outbound.EventSink
	writer  outbound.S3Writer
	metrics outbound.MetricsRecorder

	announced *lru.Cache[solana.PublicKey, announcement]

	ready       atomic.Bool
	lastSuccess atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates an order tracker. writer may be nil when no bucket is set.
func NewService(
	config Config,
	manager inbound.LiquidityManager,
	orders outbound.OrderRepository,
	events outbound.EventSink,
	writer outbound.S3Writer,
) (*Service, error) {
	if manager == nil {
		return nil, fmt.Errorf("liquidity manager cannot be nil")
	}
	if orders == nil {
		return nil, fmt.Errorf("order repository cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}
	if config.ProgramConfig.IsZero() {
		return nil, fmt.Errorf("program config address is required")
	}
	if config.Bucket != "" && writer == nil {
		return nil, fmt.Errorf("s3 writer is required when a bucket is set")
	}

	defaults := ConfigDefaults()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Reannounce <= 0 {
		config.Reannounce = defaults.Reannounce
	}
	if config.MaxTracked <= 0 {
		config.MaxTracked = defaults.MaxTracked
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	announced, err := lru.New[solana.PublicKey, announcement](config.MaxTracked)
	if err != nil {
		return nil, fmt.Errorf("creating announcement cache: %w", err)
	}

	return &Service{
		config:    config,
		manager:   manager,
		orders:    orders,
		events:    events,
		writer:    writer,
		metrics:   config.Metrics,
		announced: announced,
		logger:    config.Logger.With("component", "order-tracker"),
	}, nil
}

// Start polls once immediately and then every PollInterval.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.processLoop()

	s.logger.Info("order tracker started",
		"config", s.config.ProgramConfig,
		"pollInterval", s.config.PollInterval,
		"archive", s.config.Bucket != "",
	)
	return nil
}

// Stop stops polling and waits for the current poll to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("order tracker stopped")
	return nil
}

func (s *Service) processLoop() {
	defer s.wg.Done()

	if err := s.Poll(s.ctx); err != nil {
		s.logger.Error("poll failed", "error", err)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Poll(s.ctx); err != nil {
				s.logger.Error("poll failed", "error", err)
			}
		}
	}
}

// IsReady reports whether a poll has succeeded.
func (s *Service) IsReady() bool { return s.ready.Load() }

// IsHealthy reports whether a poll succeeded within the last three intervals.
func (s *Service) IsHealthy() bool {
	last := s.lastSuccess.Load()
	if last == 0 {
		return false
	}
	return s.config.Clock.Now().Sub(time.Unix(0, last)) <= 3*s.config.PollInterval
}

// Poll runs one tracking pass. Storage and listing failures abort the pass;
// publish and archive failures are collected and returned after it completes.
func (s *Service) Poll(ctx context.Context) error {
	now := s.config.Clock.Now().UTC()

	snapshots, err := s.manager.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing orders: %w", err)
	}
	for i := range snapshots {
		if snapshots[i].ObservedAt.IsZero() {
			snapshots[i].ObservedAt = now
		}
	}

	if err := s.orders.UpsertOrders(ctx, snapshots); err != nil {
		return fmt.Errorf("storing orders: %w", err)
	}

	cfg, err := s.manager.GetConfig(ctx, s.config.ProgramConfig)
	if err != nil {
		return fmt.Errorf("loading program config %s: %w", s.config.ProgramConfig, err)
	}

	var errs []error
	active := 0
	for _, snap := range snapshots {
		if snap.Order.Active {
			active++
		}
		if !snap.Order.IsDue(now.Unix(), cfg.TrancheInterval) {
			s.forget(snap.Address)
			continue
		}
		if !s.shouldAnnounce(snap, now) {
			continue
		}
		event := outbound.TrancheDueEvent{
			Order:        snap.Address.String(),
			Seller:       snap.Order.Seller.String(),
			Remaining:    snap.Order.Remaining,
			Tranche:      min(snap.Order.Tranche, snap.Order.Remaining),
			LastExecuted: snap.Order.LastExecuted,
			DetectedAt:   now,
		}
		if err := s.events.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("announcing order %s: %w", snap.Address, err))
			continue
		}
		s.markAnnounced(snap, now)
		s.logger.Debug("tranche due", "order", snap.Address, "remaining", snap.Order.Remaining)
	}

	if s.metrics != nil {
		s.metrics.RecordOrdersObserved(ctx, active, len(snapshots))
	}

	if s.config.Bucket != "" {
		if err := s.archive(ctx, snapshots, now); err != nil {
			errs = append(errs, err)
		}
	}

	s.ready.Store(true)
	s.lastSuccess.Store(now.UnixNano())
	s.logger.Info("poll completed", "orders", len(snapshots), "active", active)

	return errors.Join(errs...)
}

func (s *Service) shouldAnnounce(snap entity.OrderSnapshot, now time.Time) bool {
	prev, ok := s.announced.Get(snap.Address)
	if !ok || prev.lastExecuted != snap.Order.LastExecuted {
		return true
	}
	return now.Sub(prev.at) >= s.config.Reannounce
}

func (s *Service) markAnnounced(snap entity.OrderSnapshot, now time.Time) {
	s.announced.Add(snap.Address, announcement{lastExecuted: snap.Order.LastExecuted, at: now})
}

func (s *Service) forget(address solana.PublicKey) {
	s.announced.Remove(address)
}

// archivedOrder is one order in an archived snapshot.
type archivedOrder struct {
	Address      string `json:"address"`
	Seller       string `json:"seller"`
	Total        uint64 `json:"total"`
	Remaining    uint64 `json:"remaining"`
	Tranche      uint64 `json:"tranche"`
	StartTime    int64  `json:"startTime"`
	LastExecuted int64  `json:"lastExecuted"`
	Active       bool   `json:"active"`
}

type archivedPoll struct {
	ObservedAt time.Time       `json:"observedAt"`
	Orders     []archivedOrder `json:"orders"`
}

// SnapshotKey is the object key of the poll taken at t.
func SnapshotKey(prefix string, t time.Time) string {
	return path.Join(prefix, strconv.FormatInt(t.Unix(), 10)+".json.gz")
}

func (s *Service) archive(ctx context.Context, snapshots []entity.OrderSnapshot, now time.Time) error {
	poll := archivedPoll{ObservedAt: now, Orders: make([]archivedOrder, 0, len(snapshots))}
	for _, snap := range snapshots {
		poll.Orders = append(poll.Orders, archivedOrder{
			Address:      snap.Address.String(),
			Seller:       snap.Order.Seller.String(),
			Total:        snap.Order.Total,
			Remaining:    snap.Order.Remaining,
			Tranche:      snap.Order.Tranche,
			StartTime:    snap.Order.StartTime,
			LastExecuted: snap.Order.LastExecuted,
			Active:       snap.Order.Active,
		})
	}

	body, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	key := SnapshotKey(s.config.Prefix, now)
	written, err := s.writer.WriteFileIfNotExists(ctx, s.config.Bucket, key, bytes.NewReader(body), true)
	if err != nil {
		return fmt.Errorf("archiving snapshot %s: %w", key, err)
	}
	if !written {
		s.logger.Debug("snapshot already archived", "key", key)
	}
	return nil
}

// ListActiveOrders returns the stored active orders.
func (s *Service) ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	return s.orders.ListActiveOrders(ctx)
}

// GetTrackedOrder returns the stored snapshot of one order.
func (s *Service) GetTrackedOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error) {
	return s.orders.GetOrder(ctx, address)
}
