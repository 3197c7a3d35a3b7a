// Package sink forwards fetched transfers to downstream consumers.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/observability"
)

// Sink receives transfers after they are persisted as fetched.
// Publishing is at-least-once: consumers must tolerate repeated signatures.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Publish delivers transfers. A returned error covers the whole batch.
	Publish(ctx context.Context, transfers []domain.Transfer) error
	// Close flushes pending work and releases resources.
	Close() error
}

// Multi fans a batch out to several sinks.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti creates a fan-out sink. A nil logger disables logging.
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{sinks: sinks, logger: logger}
}

var _ Sink = (*Multi)(nil)

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Publish delivers to every sink and joins their errors.
// One failing sink does not prevent delivery to the others.
func (m *Multi) Publish(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	var errs []error
	for _, s := range m.sinks {
		err := s.Publish(ctx, transfers)
		observability.RecordSinkPublish(s.Name(), len(transfers), err)
		if err != nil {
			m.logger.Warn("sink publish failed",
				zap.String("sink", s.Name()),
				zap.Int("transfers", len(transfers)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Memory collects published transfers. Used in tests and --use-memory runs.
type Memory struct {
	Transfers []domain.Transfer
	Err       error
}

var _ Sink = (*Memory)(nil)

// Name implements Sink.
func (m *Memory) Name() string { return "memory" }

// Publish implements Sink.
func (m *Memory) Publish(_ context.Context, transfers []domain.Transfer) error {
	if m.Err != nil {
		return m.Err
	}
	m.Transfers = append(m.Transfers, transfers...)
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }
