package outbound

import (
	"context"
	"time"
)

// EventType represents the type of event.
type EventType string

// Event type constants.
const (
	EventTypeOrderSubmitted  EventType = "order_submitted"
	EventTypeTrancheDue      EventType = "tranche_due"
	EventTypeTrancheExecuted EventType = "tranche_executed"
	EventTypeRebaseSignal    EventType = "rebase_signal"
)

// Event is the interface that all event types implement.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType
	// GetSubject returns the account the event is about (order or config address).
	GetSubject() string
}

// OrderSubmittedEvent is published when a whale order is escrowed.
type OrderSubmittedEvent struct {
	Order     string    `json:"order"`
	Seller    string    `json:"seller"`
	Total     uint64    `json:"total"`
	Tranche   uint64    `json:"tranche"`
	Signature string    `json:"signature,omitempty"`
	At        time.Time `json:"at"`
}

func (e OrderSubmittedEvent) EventType() EventType { return EventTypeOrderSubmitted }
func (e OrderSubmittedEvent) GetSubject() string   { return e.Order }

// TrancheDueEvent is published when an order may execute its next tranche.
// Keepers subscribe to it and turn it into execution requests.
type TrancheDueEvent struct {
	Order        string    `json:"order"`
	Seller       string    `json:"seller"`
	Remaining    uint64    `json:"remaining"`
	Tranche      uint64    `json:"tranche"`
	LastExecuted int64     `json:"lastExecuted"`
	DetectedAt   time.Time `json:"detectedAt"`
}

func (e TrancheDueEvent) EventType() EventType { return EventTypeTrancheDue }
func (e TrancheDueEvent) GetSubject() string   { return e.Order }

// TrancheExecutedEvent is published after a keeper executed a tranche.
type TrancheExecutedEvent struct {
	Order          string    `json:"order"`
	Keeper         string    `json:"keeper"`
	Signature      string    `json:"signature"`
	Tranche        uint64    `json:"tranche"`
	KeeperReward   uint64    `json:"keeperReward"`
	AnchorOut      uint64    `json:"anchorOut"`
	RemainingAfter uint64    `json:"remainingAfter"`
	Completed      bool      `json:"completed"`
	ExecutedAt     time.Time `json:"executedAt"`
}

func (e TrancheExecutedEvent) EventType() EventType { return EventTypeTrancheExecuted }
func (e TrancheExecutedEvent) GetSubject() string   { return e.Order }

// RebaseSignalEvent mirrors the program's RebaseSignal event.
type RebaseSignalEvent struct {
	Config    string    `json:"config"`
	ShrinkBP  uint64    `json:"shrinkBp"`
	Price     string    `json:"price"` // decimal string, i128 on-chain
	Signature string    `json:"signature,omitempty"`
	At        time.Time `json:"at"`
}

func (e RebaseSignalEvent) EventType() EventType { return EventTypeRebaseSignal }
func (e RebaseSignalEvent) GetSubject() string   { return e.Config }

// EventSink defines the interface for publishing domain events.
type EventSink interface {
	// Publish sends an event to downstream consumers.
	Publish(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}
