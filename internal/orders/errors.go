package orders

import "errors"

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrNotFound           = errors.New("order not found")
	ErrForbidden          = errors.New("order belongs to another user")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidPayload     = errors.New("invalid webhook payload")
	ErrPaymentInit        = errors.New("payment initialization failed")
	ErrPaymentVerify      = errors.New("payment verification failed")
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// ValidationError is a checkout input problem with a client-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
