package mq

import "errors"

// Ошибки пакета mq.
var (
	// ErrNoChannel — соединение не установлено или переподключается.
	ErrNoChannel = errors.New("no channel available")

	// ErrClosed — соединение закрыто.
	ErrClosed = errors.New("connection closed")

	// ErrUnroutable — брокер вернул сообщение: нет очереди для routing key.
	ErrUnroutable = errors.New("message unroutable")

	// ErrNacked — брокер не подтвердил публикацию.
	ErrNacked = errors.New("publish not confirmed")
)
