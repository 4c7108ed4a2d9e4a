// Package keeper executes whale order tranches on request.
//
// Requests arrive on an SQS queue. For each one the keeper takes a lease on
// the order so that no other replica executes it concurrently, sends
// ExecuteTranche, records the outcome and publishes a tranche_executed event.
// Requests for orders that are finished or not yet due are acknowledged and
// recorded as skipped; any other failure leaves the message on the queue for
// redelivery.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/liquidity-manager/internal/services/keeper"

// Outcome statuses reported to metrics.
const (
	StatusExecuted  = string(entity.ExecutionExecuted)
	StatusSkipped   = string(entity.ExecutionSkipped)
	StatusFailed    = string(entity.ExecutionFailed)
	StatusContended = "contended"
)

// errLeaseHeld means another keeper is executing the same order.
var errLeaseHeld = errors.New("order lease held by another keeper")

// Compile-time check that Service implements inbound.HealthChecker
var _ inbound.HealthChecker = (*Service)(nil)

// Config holds configuration for the keeper.
type Config struct {
	// Keeper is the signing key that receives rewards.
	Keeper solana.PublicKey

	// Accounts fills whatever a request leaves out.
	Accounts Accounts

	// AnchorMint, when set, lets the keeper derive the seller's associated
	// anchor token account for requests without one.
	AnchorMint solana.PublicKey

	MaxMessages  int
	PollInterval time.Duration

	// LeaseTTL bounds how long a crashed keeper blocks an order.
	LeaseTTL time.Duration

	Metrics outbound.MetricsRecorder
	Clock   outbound.Clock
	Logger  *slog.Logger
}

// ConfigDefaults returns the defaults applied by NewService.
func ConfigDefaults() Config {
	return Config{
		MaxMessages:  10,
		PollInterval: 100 * time.Millisecond,
		LeaseTTL:     2 * time.Minute,
		Clock:        outbound.SystemClock{},
		Logger:       slog.Default(),
	}
}

// Service is the keeper worker.
type Service struct {
	config     Config
	consumer   outbound.SQSConsumer
	manager    inbound.LiquidityManager
	leases     outbound.LeaseManager
	executions outbound.ExecutionRepository
	events     outbound.EventSink
	metrics    outbound.MetricsRecorder

	started atomic.Bool
	healthy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a keeper.
func NewService(
	config Config,
	consumer outbound.SQSConsumer,
	manager inbound.LiquidityManager,
	leases outbound.LeaseManager,
	executions outbound.ExecutionRepository,
	events outbound.EventSink,
) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("liquidity manager cannot be nil")
	}
	if leases == nil {
		return nil, fmt.Errorf("lease manager cannot be nil")
	}
	if executions == nil {
		return nil, fmt.Errorf("execution repository cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}
	if config.Keeper.IsZero() {
		return nil, fmt.Errorf("keeper key is required")
	}

	defaults := ConfigDefaults()
	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:     config,
		consumer:   consumer,
		manager:    manager,
		leases:     leases,
		executions: executions,
		events:     events,
		metrics:    config.Metrics,
		logger:     config.Logger.With("component", "keeper", "keeper", config.Keeper.String()),
	}, nil
}

// Start begins polling the queue.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started.Store(true)
	s.healthy.Store(true)

	s.wg.Add(1)
	go s.processLoop()

	s.logger.Info("keeper started", "pollInterval", s.config.PollInterval)
	return nil
}

// Stop stops polling and waits for the loop to exit. In-flight requests
// finish with a cancelled context.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.started.Store(false)
	s.logger.Info("keeper stopped")
	return nil
}

// IsReady reports whether the keeper is polling.
func (s *Service) IsReady() bool { return s.started.Load() }

// IsHealthy reports whether the last receive succeeded.
func (s *Service) IsHealthy() bool { return s.started.Load() && s.healthy.Load() }

func (s *Service) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.processMessages(s.ctx); err != nil {
				s.logger.Error("error processing messages", "error", err)
			}
		}
	}
}

func (s *Service) processMessages(ctx context.Context) error {
	messages, err := s.consumer.ReceiveMessages(ctx, s.config.MaxMessages)
	if err != nil {
		s.healthy.Store(false)
		return fmt.Errorf("receiving messages: %w", err)
	}
	s.healthy.Store(true)

	var errs []error
	for _, msg := range messages {
		start := time.Now()
		status, err := s.processMessage(ctx, msg)
		if s.metrics != nil {
			s.metrics.RecordProcessingLatency(ctx, time.Since(start), status)
		}

		if err != nil {
			s.logger.Warn("request left on queue",
				"messageID", msg.MessageID,
				"receiveCount", msg.ReceiveCount,
				"status", status,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}

		if deleteErr := s.consumer.DeleteMessage(ctx, msg.ReceiptHandle); deleteErr != nil {
			s.logger.Error("failed to delete message", "messageID", msg.MessageID, "error", deleteErr)
		}
	}

	return errors.Join(errs...)
}

// processMessage handles one request and returns its outcome status. A nil
// error means the message can be deleted.
func (s *Service) processMessage(ctx context.Context, msg outbound.SQSMessage) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "keeper.processMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", msg.MessageID),
			attribute.Int("messaging.receive_count", msg.ReceiveCount),
		),
	)
	defer span.End()

	req, err := parseRequest(msg.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		s.record(ctx, StatusFailed, 0)
		return StatusFailed, err
	}
	span.SetAttributes(attribute.String("order", req.Order.String()))

	execReq, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving accounts")
		s.record(ctx, StatusFailed, 0)
		return StatusFailed, err
	}

	lease, ok, err := s.leases.Acquire(ctx, "order:"+req.Order.String(), s.config.LeaseTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquiring lease")
		s.record(ctx, StatusFailed, 0)
		return StatusFailed, fmt.Errorf("acquiring lease for order %s: %w", req.Order, err)
	}
	if !ok {
		span.SetAttributes(attribute.Bool("lease.contended", true))
		s.record(ctx, StatusContended, 0)
		return StatusContended, errLeaseHeld
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release lease", "order", req.Order, "error", err)
		}
	}()

	result, err := s.manager.ExecuteTranche(ctx, execReq)
	now := s.config.Clock.Now().UTC()
	switch {
	case errors.Is(err, entity.ErrTrancheNotReady), errors.Is(err, entity.ErrOrderInactive):
		s.logger.Info("tranche skipped", "order", req.Order, "reason", err)
		span.SetAttributes(attribute.String("keeper.status", StatusSkipped))
		s.saveExecution(ctx, req, entity.ExecutionSkipped, err.Error(), now)
		s.record(ctx, StatusSkipped, 0)
		return StatusSkipped, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute tranche failed")
		s.saveExecution(ctx, req, entity.ExecutionFailed, err.Error(), now)
		s.record(ctx, StatusFailed, 0)
		return StatusFailed, fmt.Errorf("executing tranche for order %s: %w", req.Order, err)
	}

	// From here on the tranche is final on-chain, so the message is deleted
	// even when bookkeeping fails.
	s.recordExecuted(ctx, req, result, now)

	event := outbound.TrancheExecutedEvent{
		Order:          req.Order.String(),
		Keeper:         s.config.Keeper.String(),
		Signature:      result.Signature.String(),
		Tranche:        result.Plan.Tranche,
		KeeperReward:   result.Plan.KeeperReward,
		AnchorOut:      result.Plan.AnchorOut,
		RemainingAfter: result.Order.Remaining,
		Completed:      !result.Order.Active,
		ExecutedAt:     now,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish tranche_executed", "order", req.Order, "error", err)
	}

	s.record(ctx, StatusExecuted, result.Plan.KeeperReward)
	span.SetAttributes(
		attribute.String("keeper.status", StatusExecuted),
		attribute.String("tx.signature", result.Signature.String()),
		attribute.Int64("tranche.amount", int64(result.Plan.Tranche)),
	)
	s.logger.Info("tranche executed",
		"order", req.Order,
		"signature", result.Signature,
		"tranche", result.Plan.Tranche,
		"reward", result.Plan.KeeperReward,
		"remaining", result.Order.Remaining,
	)
	return StatusExecuted, nil
}

// resolve fills a request's accounts from the defaults and, when possible, the
// seller's associated anchor account.
func (s *Service) resolve(ctx context.Context, req *Request) (inbound.ExecuteTrancheRequest, error) {
	accounts := req.Accounts.withDefaults(s.config.Accounts)

	if accounts.SellerAnchor.IsZero() && !s.config.AnchorMint.IsZero() {
		seller := req.Seller
		if seller.IsZero() {
			order, err := s.manager.GetOrder(ctx, req.Order)
			if err != nil {
				return inbound.ExecuteTrancheRequest{}, fmt.Errorf("loading order %s: %w", req.Order, err)
			}
			seller = order.Seller
		}
		ata, _, err := solana.FindAssociatedTokenAddress(seller, s.config.AnchorMint)
		if err != nil {
			return inbound.ExecuteTrancheRequest{}, fmt.Errorf("deriving seller anchor account: %w", err)
		}
		accounts.SellerAnchor = ata
	}

	if missing := accounts.missing(); len(missing) > 0 {
		return inbound.ExecuteTrancheRequest{}, fmt.Errorf("request for order %s is missing accounts: %s", req.Order, strings.Join(missing, ", "))
	}
	return req.toExecuteTranche(s.config.Keeper, accounts), nil
}

func (s *Service) saveExecution(ctx context.Context, req *Request, status entity.ExecutionStatus, reason string, at time.Time) {
	exec, err := entity.NewTrancheExecution(req.Order, s.config.Keeper, status, at)
	if err != nil {
		s.logger.Error("invalid execution record", "order", req.Order, "error", err)
		return
	}
	exec.Reason = reason
	if err := s.executions.SaveExecution(ctx, exec); err != nil {
		s.logger.Error("failed to save execution", "order", req.Order, "status", status, "error", err)
	}
}

func (s *Service) recordExecuted(ctx context.Context, req *Request, result *inbound.TrancheResult, at time.Time) {
	exec, err := entity.NewTrancheExecution(req.Order, s.config.Keeper, entity.ExecutionExecuted, at)
	if err != nil {
		s.logger.Error("invalid execution record", "order", req.Order, "error", err)
		return
	}
	exec.Signature = result.Signature
	exec.Tranche = result.Plan.Tranche
	exec.KeeperReward = result.Plan.KeeperReward
	exec.AnchorOut = result.Plan.AnchorOut
	exec.RemainingAfter = result.Order.Remaining

	snapshot := entity.OrderSnapshot{Address: req.Order, Order: result.Order, ObservedAt: at}
	if err := s.executions.RecordExecuted(ctx, exec, snapshot); err != nil {
		s.logger.Error("failed to record execution", "order", req.Order, "signature", result.Signature, "error", err)
	}
}

func (s *Service) record(ctx context.Context, status string, reward uint64) {
	if s.metrics != nil {
		s.metrics.RecordTranche(ctx, status, reward)
	}
}
