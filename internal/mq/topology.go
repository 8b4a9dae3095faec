package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// ExchangeRuns — topic-обменник уведомлений о переходах run.
// Routing key — run.<status>, например run.completed или run.failed.
const ExchangeRuns Exchange = "pressline.runs"

// QueueRunNotifications — очередь для слушателей терминальных переходов
// (плагин, дашборд). Подписана на все run.* события.
const QueueRunNotifications Queue = "runs.notifications"

// routingKeyPattern — binding очереди уведомлений.
const routingKeyPattern = "run.*"

// SetupTopology объявляет обменник, очередь и binding уведомлений.
// Операция идемпотентна, её безопасно выполнять при каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeRuns), // name
			"topic",              // type
			true,                 // durable
			false,                // auto-deleted
			false,                // internal
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeRuns, err)
		}

		_, err = ch.QueueDeclare(
			string(QueueRunNotifications), // name
			true,                          // durable
			false,                         // delete when unused
			false,                         // exclusive
			false,                         // no-wait
			nil,                           // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueRunNotifications, err)
		}

		err = ch.QueueBind(
			string(QueueRunNotifications), // queue name
			routingKeyPattern,             // routing key
			string(ExchangeRuns),          // exchange
			false,                         // no-wait
			nil,                           // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueRunNotifications, ExchangeRuns, err)
		}

		return nil
	})
}
