package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или потеряно.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrPermanent — обработчик не сможет обработать сообщение и при повторе.
	// Такое сообщение сразу уходит в DLQ.
	ErrPermanent = errors.New("permanent message failure")
)
