// Package kafka publishes fetched transfers as JSON events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/sink"
)

const (
	defaultBatchSize       = 32 * 1024
	defaultLingerMs        = 5
	defaultDeliveryTimeout = 30 * time.Second
	flushTimeoutMs         = 5000
)

// Options configures the producer.
type Options struct {
	Brokers         string // comma separated
	Topic           string
	BatchSize       int // bytes
	LingerMs        int
	DeliveryTimeout time.Duration // per Publish call
	Logger          *zap.Logger
}

// producer is the subset of *kafka.Producer used by Sink.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Sink publishes transfers keyed by signature so every event of one
// transaction lands on the same partition.
type Sink struct {
	producer producer
	topic    string
	timeout  time.Duration
	logger   *zap.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New connects a producer with idempotent delivery enabled.
func New(opts Options) (*Sink, error) {
	if opts.Brokers == "" || opts.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := opts.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": opts.Brokers,
		"client.id":         fmt.Sprintf("ledgersync-%s", host),

		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,

		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return newSink(p, opts), nil
}

func newSink(p producer, opts Options) *Sink {
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{producer: p, topic: opts.Topic, timeout: timeout, logger: logger}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return "kafka" }

// Publish produces one message per transfer and waits for every delivery
// report. The returned error joins all per-message failures.
func (s *Sink) Publish(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	deliveries := make(chan kafka.Event, len(transfers))
	pending := 0
	var errs []error
	for i := range transfers {
		value, err := encodeTransfer(&transfers[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", transfers[i].Signature, err))
			continue
		}
		err = s.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
			Key:            []byte(transfers[i].Signature),
			Value:          value,
		}, deliveries)
		if err != nil {
			errs = append(errs, fmt.Errorf("produce %s: %w", transfers[i].Signature, err))
			continue
		}
		pending++
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for ; pending > 0; pending-- {
		select {
		case e := <-deliveries:
			msg, ok := e.(*kafka.Message)
			if !ok {
				errs = append(errs, fmt.Errorf("unexpected delivery event %T", e))
				continue
			}
			if msg.TopicPartition.Error != nil {
				errs = append(errs, fmt.Errorf("deliver %s: %w", msg.Key, msg.TopicPartition.Error))
			}
		case <-timer.C:
			return errors.Join(append(errs, fmt.Errorf("%d deliveries timed out after %v", pending, s.timeout))...)
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}

	return errors.Join(errs...)
}

// Close flushes outstanding messages and closes the producer.
func (s *Sink) Close() error {
	if left := s.producer.Flush(flushTimeoutMs); left > 0 {
		s.logger.Warn("kafka messages not flushed", zap.Int("remaining", left))
	}
	s.producer.Close()
	return nil
}

// transferEvent is the JSON payload of one published transfer.
type transferEvent struct {
	Signature           string `json:"signature"`
	Slot                int64  `json:"slot"`
	BlockTime           *int64 `json:"block_time"`
	Mint                string `json:"mint"`
	Amount              int64  `json:"amount"`
	Decimals            int    `json:"decimals"`
	Direction           string `json:"direction"`
	From                string `json:"from,omitempty"`
	To                  string `json:"to,omitempty"`
	FromTokenAccount    string `json:"from_token_account,omitempty"`
	ToTokenAccount      string `json:"to_token_account,omitempty"`
	TrackedTokenAccount string `json:"tracked_token_account,omitempty"`
}

func encodeTransfer(t *domain.Transfer) ([]byte, error) {
	return json.Marshal(transferEvent{
		Signature:           t.Signature,
		Slot:                t.Slot,
		BlockTime:           t.BlockTime,
		Mint:                t.Mint,
		Amount:              t.Amount,
		Decimals:            t.Decimals,
		Direction:           string(t.Direction),
		From:                t.From,
		To:                  t.To,
		FromTokenAccount:    t.FromTokenAccount,
		ToTokenAccount:      t.ToTokenAccount,
		TrackedTokenAccount: t.TrackedTokenAccount,
	})
}
