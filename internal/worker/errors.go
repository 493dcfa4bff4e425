package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownChannel — нет отправителя для типа уведомления.
	ErrUnknownChannel = errors.New("unknown notification channel")

	// ErrMissingCredentials — у уведомления нет учётных данных канала.
	ErrMissingCredentials = errors.New("notification credentials are missing")

	// ErrInvalidNotification — уведомление без получателя или содержимого.
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrDeliveryRejected — провайдер отклонил сообщение (повтор не поможет).
	ErrDeliveryRejected = errors.New("delivery rejected by provider")

	// ErrDeliveryFailed — временная ошибка доставки.
	ErrDeliveryFailed = errors.New("delivery failed")
)
