// Package mq публикует уведомления о терминальных переходах runs
// в RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchange, queue, binding
//   - publisher.go  — публикация уведомлений
//
// Топология: один topic-обменник pressline.runs с routing key
// run.<status> (run.completed, run.failed, run.rolled_back,
// run.rollback_failed) и очередь runs.notifications, подписанная
// на run.*.
//
// Брокер опционален: без него движок работает в polling-only режиме,
// уведомления просто не публикуются.
package mq
