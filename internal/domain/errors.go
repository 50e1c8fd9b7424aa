package domain

import "errors"

var (
	// ErrValidation: некорректная корзина, данные клиента или параметры запроса. Не ретраится.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized: токен сессии не совпадает с черновиком заказа.
	ErrUnauthorized = errors.New("order token does not match")
	// ErrSlotFull: в слоте или на день больше нет свободной ёмкости.
	ErrSlotFull = errors.New("slot is full")
	// ErrSlotClosed: день или слот закрыт для бронирования.
	ErrSlotClosed = errors.New("slot is closed")
	// ErrSlotNotFound: слот с таким идентификатором не описан в шаблоне дня.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrModeDisabled: режим (доставка/самовывоз) выключен в конфигурации.
	ErrModeDisabled = errors.New("delivery mode is disabled")
	// ErrConfigMissing: документ конфигурации доставки отсутствует.
	ErrConfigMissing = errors.New("delivery config is missing")
	// ErrConfigVersionConflict: конфигурацию успели сохранить с другой версией.
	ErrConfigVersionConflict = errors.New("delivery config version conflict")
	// ErrTransactionConflict: конкурентная транзакция изменила прочитанные документы, попытки исчерпаны.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrReadAfterWrite: тело транзакции читает после первой записи (ошибка программиста).
	ErrReadAfterWrite = errors.New("transaction read issued after write")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCustomerNotFound возвращается, если клиент с таким телефоном не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInvalidTransition: переход статуса заказа запрещён.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrStockItemNotFound: нет складской записи для товара/варианта.
	ErrStockItemNotFound = errors.New("stock item not found")
	// ErrInsufficientStock: корректировка увела бы остаток в минус.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsValidation проверяет, что ошибка относится к ошибкам входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSlotNotFound)
}

// IsSlotUnavailable сообщает, что слот занят или закрыт: ожидаемый конфликт,
// который пользователь видит как «esgotado, выберите другое время».
func IsSlotUnavailable(err error) bool {
	return errors.Is(err, ErrSlotFull) || errors.Is(err, ErrSlotClosed) || errors.Is(err, ErrModeDisabled)
}

// IsUnauthorized проверяет ошибку привязки токена к заказу.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransactionConflict проверяет, является ли ошибка исчерпанием попыток транзакции.
func IsTransactionConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
