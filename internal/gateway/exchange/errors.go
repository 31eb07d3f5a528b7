package exchange

import (
	"errors"
	"fmt"
)

// Reject codes the retry policy keys on. Codes are Binance futures API codes
// surfaced verbatim; other backends map their equivalents onto these.
const (
	CodeInsufficientMargin = -2019
	CodeReduceOnlyReject   = -2022
	CodePricePrecision     = -1111
	CodeNotionalTooSmall   = -4164
)

// NetworkError marks a transient transport failure. Callers may retry with
// backoff; a bounded run of consecutive NetworkErrors halts the loop.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExchangeError is a rejection from the exchange carrying its machine
// readable code. The code is passed through untouched because the entry
// retry policy matches on it.
type ExchangeError struct {
	Op      string
	Code    int64
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected %s (code %d): %s", e.Op, e.Code, e.Message)
}

// ErrNotionalTooSmall is returned locally, before submission, when an order
// would violate the exchange minimum notional.
var ErrNotionalTooSmall = errors.New("order notional below exchange minimum")

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsInsufficientMargin(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Code == CodeInsufficientMargin
}

// RejectCode extracts the exchange reject code, or 0 when err is not an
// exchange rejection.
func RejectCode(err error) int64 {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 0
}
