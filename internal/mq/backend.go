package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

// QueueBackend — списки приоритетов очереди tasks поверх RabbitMQ.
//
// Каждый приоритет — отдельная durable очередь conveyor.tasks.<level>.
// Извлечение — basic.get с auto-ack: task, извлечённый процессом,
// который затем упал, не возвращается в очередь.
//
// Push идёт через отдельный канал в confirm-режиме: Push успешен только
// после basic.ack, а возвращённое брокером (mandatory) сообщение
// даёт ErrUnroutable.
type QueueBackend struct {
	conn *Connection

	pubMu   sync.Mutex
	pubCh   *amqp.Channel
	returns chan amqp.Return
}

// NewQueueBackend создаёт backend. Топология должна быть объявлена
// через SetupTopology.
func NewQueueBackend(conn *Connection) *QueueBackend {
	return &QueueBackend{conn: conn}
}

// Push публикует task в очередь его приоритета и ждёт подтверждения.
func (b *QueueBackend) Push(ctx context.Context, p domain.Priority, data []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	msgID := uuid.NewString()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		string(ExchangeTasks),
		string(TaskRoutingKey(p)),
		true,  // mandatory: без очереди публикация вернётся
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msgID,
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("push to %s: %w", TaskQueue(p), err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm push to %s: %w", TaskQueue(p), err)
	}

	// basic.return приходит раньше basic.ack того же сообщения
	if ret, ok := b.takeReturn(msgID); ok {
		return fmt.Errorf("%w: %s: %d %s", ErrUnroutable, TaskQueue(p), ret.ReplyCode, ret.ReplyText)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNacked, TaskQueue(p))
	}
	return nil
}

// publishChannel возвращает канал публикации, открывая его при необходимости.
// Вызывается под pubMu.
func (b *QueueBackend) publishChannel() (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	b.conn.mu.RLock()
	conn, closed := b.conn.conn, b.conn.closed
	b.conn.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if conn == nil || conn.IsClosed() {
		return nil, ErrNoChannel
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoChannel, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: confirm mode: %v", ErrNoChannel, err)
	}

	b.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	b.pubCh = ch
	return ch, nil
}

// takeReturn вычитывает накопленные возвраты и сообщает,
// был ли среди них msgID.
func (b *QueueBackend) takeReturn(msgID string) (amqp.Return, bool) {
	var (
		found amqp.Return
		ok    bool
	)
	for {
		select {
		case ret, open := <-b.returns:
			if !open {
				return found, ok
			}
			if ret.MessageId == msgID {
				found, ok = ret, true
			}
		default:
			return found, ok
		}
	}
}

// TryPop забирает первое сообщение из очереди приоритета без ожидания.
func (b *QueueBackend) TryPop(ctx context.Context, p domain.Priority) ([]byte, bool, error) {
	var (
		body []byte
		ok   bool
	)

	err := b.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		msg, found, err := ch.Get(string(TaskQueue(p)), true)
		if err != nil {
			return fmt.Errorf("get from %s: %w", TaskQueue(p), err)
		}
		if found {
			body, ok = msg.Body, true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return body, ok, nil
}

// Len возвращает количество готовых сообщений (passive declare).
func (b *QueueBackend) Len(ctx context.Context, p domain.Priority) (int, error) {
	var n int
	err := b.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(string(TaskQueue(p)), true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", TaskQueue(p), err)
		}
		n = q.Messages
		return nil
	})
	return n, err
}

// Close закрывает канал публикации. Соединением владеет вызывающая сторона.
func (b *QueueBackend) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pubCh == nil || b.pubCh.IsClosed() {
		return nil
	}
	err := b.pubCh.Close()
	b.pubCh = nil
	return err
}
