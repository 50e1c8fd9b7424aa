package orders

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func errUnauthorized(detail string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
}

func errTransition(order domain.Order, next domain.OrderStatus) error {
	return fmt.Errorf("%w: order %s is %s, cannot move to %s", domain.ErrInvalidTransition, order.ShortID, order.Status, next)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound)
}

// resultLabel сводит ошибку операции к метке метрики.
func resultLabel(err error, success string) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, domain.ErrSlotFull):
		return "full"
	case errors.Is(err, domain.ErrSlotClosed), errors.Is(err, domain.ErrModeDisabled):
		return "closed"
	case domain.IsUnauthorized(err):
		return "unauthorized"
	case domain.IsValidation(err):
		return "invalid"
	case domain.IsTransactionConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
