package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"openlegalrag/internal/model"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/platform/rabbitmq"
)

const moduleAuditWorker = "worker.completion_audit"

// ErrUndecodable marks a delivery that can never be stored. It is dropped
// instead of requeued.
var ErrUndecodable = errors.New("undecodable completion record")

// acknowledger is the settle half of amqp.Delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type RecordStore interface {
	Create(record *model.CompletionRecord) error
}

// CompletionAuditWorker consumes completion records from RabbitMQ and stores them.
type CompletionAuditWorker struct {
	conn      *amqp.Connection
	repo      RecordStore
	queueName string
	logger    logger.ILogger
	// retryDelay paces redelivery while the store is failing.
	retryDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCompletionAuditWorker(conn *amqp.Connection, repo RecordStore, queueName string, log logger.ILogger) *CompletionAuditWorker {
	if log == nil {
		log = logger.NewNop()
	}
	return &CompletionAuditWorker{
		conn:       conn,
		repo:       repo,
		queueName:  queueName,
		logger:     log,
		retryDelay: time.Second,
	}
}

func (w *CompletionAuditWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.settle(workerCtx, d, d.MessageId, d.Body)
			}
		}
	}()

	w.logger.Info(moduleAuditWorker, "audit worker started", map[string]interface{}{"queue": w.queueName})
	return nil
}

// settle stores one delivery and acks it. Undecodable bodies are dropped;
// store failures are requeued, which is safe because Create ignores a
// request id it already holds.
func (w *CompletionAuditWorker) settle(ctx context.Context, d acknowledger, messageID string, body []byte) {
	err := w.Handle(body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	details := map[string]interface{}{"message_id": messageID, "error": err}
	if errors.Is(err, ErrUndecodable) {
		w.logger.Error(moduleAuditWorker, "dropping undecodable completion record", details)
		_ = d.Nack(false, false)
		return
	}
	w.logger.Warn(moduleAuditWorker, "store completion record failed, requeueing", details)
	if w.retryDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
	_ = d.Nack(false, true)
}

// Handle decodes and stores one delivery body.
func (w *CompletionAuditWorker) Handle(body []byte) error {
	var record model.CompletionRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if record.RequestID == "" {
		return fmt.Errorf("%w: no request id", ErrUndecodable)
	}
	record.ID = 0
	return w.repo.Create(&record)
}

func (w *CompletionAuditWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
