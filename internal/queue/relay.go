package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
)

// MessageSource yields Kafka messages and accepts their commits.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// EventPublisher delivers a named event to one user's channel.
type EventPublisher interface {
	Publish(ctx context.Context, userID, event string, payload interface{}) error
}

// StatusRelay consumes alertStatusChanged messages and forwards each one to
// the owning user as alertStatusTriggered. Every message is committed once
// handled, including ones that fail to decode or publish.
type StatusRelay struct {
	source     MessageSource
	publisher  EventPublisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	retryDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusRelay creates a new status relay
func NewStatusRelay(source MessageSource, publisher EventPublisher, logger *zap.Logger, metrics *observability.Metrics) *StatusRelay {
	return &StatusRelay{
		source:     source,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		retryDelay: time.Second,
	}
}

// Start begins consuming in the background
func (r *StatusRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx)
	}()
}

// Stop stops the relay and waits for the in-flight message
func (r *StatusRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Run consumes until ctx is done.
func (r *StatusRelay) Run(ctx context.Context) {
	for {
		msg, err := r.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to consume status message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.retryDelay):
			}
			continue
		}

		r.handle(ctx, msg)

		if err := r.source.Commit(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (r *StatusRelay) handle(ctx context.Context, msg kafka.Message) {
	change, err := protocol.DecodeAlertStatusChanged(msg.Value)
	if err != nil {
		r.count("decode_error")
		r.logger.Warn("skipping undecodable status message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	if err := r.publisher.Publish(ctx, change.UserID, protocol.EventAlertStatusTriggered, change.Relay()); err != nil {
		r.count("publish_error")
		r.logger.Error("failed to relay alert status",
			zap.String("alert_id", change.AlertID),
			zap.String("user_id", change.UserID),
			zap.Error(err),
		)
		return
	}

	r.count("relayed")
	r.logger.Debug("alert status relayed",
		zap.String("alert_id", change.AlertID),
		zap.String("user_id", change.UserID),
		zap.String("status", change.Status),
	)
}

func (r *StatusRelay) count(outcome string) {
	if r.metrics != nil {
		r.metrics.StatusRelayed.WithLabelValues(outcome).Inc()
	}
}
