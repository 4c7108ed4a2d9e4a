package outbound

import "context"

// SQSMessage is one execution request as delivered by the queue.
type SQSMessage struct {
	MessageID string

	// ReceiptHandle identifies this delivery for DeleteMessage. It changes on
	// every redelivery.
	ReceiptHandle string

	// Body is either a keeper request or an SNS envelope wrapping one.
	Body string

	// ReceiveCount is the ApproximateReceiveCount attribute; the keeper logs it
	// so repeated failures are visible before redrive.
	ReceiveCount int
}

// SQSConsumer is the keeper's view of its request queue.
type SQSConsumer interface {
	// ReceiveMessages long-polls for at most maxMessages. No messages is not an error.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]SQSMessage, error)

	// DeleteMessage acknowledges a delivery so it is not redelivered.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	Close() error
}
