// Package sns publishes domain events to an SNS topic.
//
// Every event carries eventType and subject message attributes so that
// subscriptions can filter (keeper queues subscribe to tranche_due only).
// FIFO topics are grouped by subject, which keeps events for one order in
// the order they were published.
//
// Publishes retry transient failures and then go through a circuit breaker:
// after BreakerThreshold consecutive failed publishes the sink fails fast with
// gobreaker.ErrOpenState until BreakerCooldown has passed.
package sns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sony/gobreaker"

	"github.com/archon-research/liquidity-manager/internal/pkg/retry"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// SNSPublisher is the part of the SNS client the sink calls.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// Config holds SNS sink configuration.
type Config struct {
	// TopicARN receives every event type.
	TopicARN string

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int

	// InitialBackoff is the initial backoff duration for retries.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff between retries.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry.
	BackoffFactor float64

	// BreakerThreshold is the number of consecutive failed publishes that
	// opens the breaker. Rejected (non-retryable) events do not count.
	BreakerThreshold uint32

	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns the retry defaults applied by NewEventSink.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:       3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		BackoffFactor:    2.0,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		Logger:           slog.Default(),
	}
}

// EventSink implements outbound.EventSink on SNS.
type EventSink struct {
	client  SNSPublisher
	config  Config
	fifo    bool
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewEventSink creates an SNS event sink.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = defaults.BreakerThreshold
	}
	if config.BreakerCooldown == 0 {
		config.BreakerCooldown = defaults.BreakerCooldown
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	logger := config.Logger.With("component", "sns-eventsink")
	threshold := config.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.TopicARN,
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publish breaker state changed", "topic", name, "from", from.String(), "to", to.String())
		},
	})

	return &EventSink{
		client:  client,
		config:  config,
		fifo:    strings.HasSuffix(config.TopicARN, ".fifo"),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Publish sends the event as JSON.
func (s *EventSink) Publish(ctx context.Context, event outbound.Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.New("event sink is closed")
	}
	s.mu.RUnlock()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.EventType())),
			},
			"subject": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.GetSubject()),
			},
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(event.GetSubject())
		input.MessageDeduplicationId = aws.String(deduplicationID(event.EventType(), body))
	}

	retryCfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"eventType", event.EventType(),
			"subject", event.GetSubject(),
		)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, retry.DoVoid(ctx, retryCfg, isRetryableError, onRetry, func() error {
			_, err := s.client.Publish(ctx, input)
			return err
		})
	})
	if err != nil {
		s.logger.Error("publish failed",
			"error", err,
			"eventType", event.EventType(),
			"subject", event.GetSubject(),
		)
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// deduplicationID is stable for identical payloads so SNS drops redeliveries
// inside its five minute window.
func deduplicationID(eventType outbound.EventType, body []byte) string {
	sum := sha256.Sum256(append([]byte(eventType+":"), body...))
	return hex.EncodeToString(sum[:])
}

// isRetryableError classifies SNS errors. Validation failures and context
// errors stop immediately; throttling and unknown (network) errors retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}

	return true
}

// Close marks the sink as closed. Later publishes fail.
func (s *EventSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("SNS event sink closed")
	})
	return nil
}
