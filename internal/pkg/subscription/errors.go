package subscription

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Code is a stable machine-readable rejection code. The API layer translates
// codes to HTTP statuses; no internal state ever leaks through them.
type Code string

const (
	CodeInvalidPlan          Code = "INVALID_PLAN"
	CodeMissingPlan          Code = "MISSING_PLAN"
	CodeInvalidAction        Code = "INVALID_ACTION"
	CodeAlreadySubscribed    Code = "ALREADY_SUBSCRIBED"
	CodeInvalidUpgrade       Code = "INVALID_UPGRADE"
	CodeInvalidDowngrade     Code = "INVALID_DOWNGRADE"
	CodeSubscriptionCanceled Code = "SUBSCRIPTION_CANCELED"
	CodeProcessingChange     Code = "PROCESSING_CHANGE"
	CodeRefundPending        Code = "REFUND_PENDING"
	CodePendingDowngrade     Code = "PENDING_DOWNGRADE"
	CodeNoSubscription       Code = "NO_SUBSCRIPTION"
	CodeAlreadyCanceled      Code = "ALREADY_CANCELED"
	CodeNotCanceled          Code = "NOT_CANCELED"
	CodePeriodEnded          Code = "PERIOD_ENDED"
	CodeRefundExists         Code = "REFUND_EXISTS"
	CodeRefundWindowExpired  Code = "REFUND_WINDOW_EXPIRED"
	CodeRefundNotEligible    Code = "REFUND_NOT_ELIGIBLE"
	CodeNoPendingChange      Code = "NO_PENDING_CHANGE"
	CodeNotDue               Code = "NOT_DUE"
	CodePaymentFailed        Code = "PAYMENT_FAILED"
	CodeInternal             Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the API layer should answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeProcessingChange:
		return fiber.StatusConflict
	case CodeNoSubscription:
		return fiber.StatusNotFound
	case CodePaymentFailed:
		return fiber.StatusPaymentRequired
	case CodeInternal:
		return fiber.StatusInternalServerError
	case CodeMissingPlan, CodeInvalidPlan, CodeInvalidAction:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusUnprocessableEntity
	}
}

// TransitionError carries a rejection code across the executor boundary.
type TransitionError struct {
	Code    Code
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// NewTransitionError builds a TransitionError for a code.
func NewTransitionError(code Code, message string) *TransitionError {
	return &TransitionError{Code: code, Message: message}
}

// CodeOf extracts the rejection code from an error, or CodeInternal for
// errors that are not transition rejections.
func CodeOf(err error) Code {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller should retry with backoff.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeProcessingChange
}
