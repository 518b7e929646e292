package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks  Exchange = "conveyor.tasks"
	ExchangeEvents Exchange = "conveyor.events"
)

// Очередь событий завершения.
const (
	QueueEventsCompleted Queue      = "conveyor.events.completed"
	RoutingKeyCompleted  RoutingKey = "task.completed"
)

// TaskQueue возвращает имя очереди tasks для приоритета.
func TaskQueue(p domain.Priority) Queue {
	return Queue(fmt.Sprintf("%s.%s", ExchangeTasks, p.RoutingKey()))
}

// TaskRoutingKey возвращает routing key для приоритета.
func TaskRoutingKey(p domain.Priority) RoutingKey {
	return RoutingKey(p.RoutingKey())
}

// SetupTopology объявляет exchanges и очереди (идемпотентно).
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		return declareQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeEvents, "topic"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очередь на каждый приоритет и очередь событий.
func declareQueues(ch *amqp.Channel) error {
	type binding struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}

	bindings := make([]binding, 0, domain.PriorityLevels+1)
	for _, p := range domain.Priorities() {
		bindings = append(bindings, binding{TaskQueue(p), TaskRoutingKey(p), ExchangeTasks})
	}
	bindings = append(bindings, binding{QueueEventsCompleted, RoutingKeyCompleted, ExchangeEvents})

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(
			string(b.queue), // name
			true,            // durable
			false,           // delete when unused
			false,           // exclusive
			false,           // no-wait
			nil,             // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}

		if err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
