package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Pressline/internal/domain"
)

// Publisher публикует уведомления о переходах run в RabbitMQ.
// Реализует executor.Notifier.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// RunStatusMessage — уведомление о переходе run в новый статус.
type RunStatusMessage struct {
	// MessageID — уникальный идентификатор сообщения.
	MessageID string `json:"message_id"`

	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// InstallationID — установка, которой принадлежит run.
	InstallationID string `json:"installation_id"`

	// Status — новый статус run.
	Status domain.RunStatus `json:"status"`

	// Timestamp — время публикации.
	Timestamp time.Time `json:"timestamp"`
}

// newRunStatusPublishing собирает routing key и AMQP-сообщение
// для уведомления о переходе run.
func newRunStatusPublishing(runID uuid.UUID, installationID string, status domain.RunStatus) (string, amqp.Publishing, error) {
	msg := RunStatusMessage{
		MessageID:      uuid.New().String(),
		RunID:          runID,
		InstallationID: installationID,
		Status:         status,
		Timestamp:      time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}

	return "run." + string(status), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

// PublishRunStatus публикует уведомление о переходе run.
// Routing key — run.<status>.
func (p *Publisher) PublishRunStatus(ctx context.Context, runID uuid.UUID, installationID string, status domain.RunStatus) error {
	routingKey, pub, err := newRunStatusPublishing(runID, installationID, status)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeRuns), // exchange
			routingKey,           // routing key
			false,
			false,
			pub,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeRuns, routingKey, err)
		}

		p.logger.Debug("published run status",
			"run_id", runID,
			"routing_key", routingKey,
			"message_id", pub.MessageId,
		)

		return nil
	})
}
