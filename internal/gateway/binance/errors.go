package binance

import (
	"context"
	"errors"
	"net"
	"strings"

	"scalper/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"
)

// Margin-type and leverage setup rejections that mean "already configured".
const (
	codeNoNeedChangeMargin   = -4046
	codeNoNeedChangePosition = -4059
)

// classifyError maps SDK failures onto the gateway error taxonomy. API
// rejections keep their code verbatim; everything transport-shaped becomes
// a retryable NetworkError.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &exchange.ExchangeError{Op: op, Code: apiErr.Code, Message: apiErr.Message}
	}
	if code, msg, ok := rejectFromBody(err.Error()); ok {
		return &exchange.ExchangeError{Op: op, Code: code, Message: msg}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &exchange.NetworkError{Op: op, Err: err}
	}
	// The SDK wraps plain transport failures in opaque errors; anything that
	// reached here without an exchange code is treated as transient.
	return &exchange.NetworkError{Op: op, Err: err}
}

// rejectFromBody recovers {"code":..,"msg":..} reject payloads from error
// strings the SDK failed to type. Binance sometimes returns these on
// non-2xx statuses that bypass APIError decoding.
func rejectFromBody(raw string) (int64, string, bool) {
	idx := strings.Index(raw, "{")
	if idx < 0 {
		return 0, "", false
	}
	body := raw[idx:]
	if !gjson.Valid(body) {
		return 0, "", false
	}
	code := gjson.Get(body, "code")
	if !code.Exists() || code.Int() == 0 {
		return 0, "", false
	}
	return code.Int(), gjson.Get(body, "msg").String(), true
}

// benignSetupReject reports codes meaning leverage/margin mode was already
// configured as requested.
func benignSetupReject(err error) bool {
	switch exchange.RejectCode(err) {
	case codeNoNeedChangeMargin, codeNoNeedChangePosition:
		return true
	}
	return false
}
