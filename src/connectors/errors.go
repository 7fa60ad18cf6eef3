package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

var (
	// ErrTransient marks a failure that may succeed when retried.
	ErrTransient = errors.New("transient exchange error")
	// ErrStateConflict means the exchange state differs from what the caller assumed,
	// e.g. an order filled while it was being cancelled.
	ErrStateConflict = errors.New("exchange state conflict")
	// ErrOrderNotFound is returned when the exchange does not know the order id.
	ErrOrderNotFound = errors.New("order not found on exchange")
)

// TransientError carries the cause of a retryable failure. errors.Is(err, ErrTransient) holds.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// RejectedError is a definitive refusal by the exchange. It is never retried.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by exchange: %s (%s)", e.Reason, e.Code)
}

func NewTransient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected returns the RejectedError in err's chain, if any.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	return isRetryableStatus(r.StatusCode())
}

func isRetryableStatus(code int) bool {
	if code >= 500 && code <= 599 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

type errorClass int

const (
	classRejected errorClass = iota
	classTransient
	classConflict
	classNotFound
)

// krakenErrorCodes maps Kraken Futures error strings to how they must be handled.
var krakenErrorCodes = map[string]errorClass{
	"apiLimitExceeded":        classTransient,
	"nonceBelowThreshold":     classTransient,
	"nonceDuplicate":          classTransient,
	"Server Error":            classTransient,
	"Unavailable":             classTransient,
	"marketUnavailable":       classTransient,
	"authenticationError":     classRejected,
	"accountInactive":         classRejected,
	"requiredArgumentMissing": classRejected,
	"invalidArgument":         classRejected,
	"invalidUnit":             classRejected,
	"insufficientFunds":       classRejected,
	"contractNotFound":        classRejected,
	"orderForEditNotFound":    classNotFound,
	"notFound":                classNotFound,
	"filled":                  classConflict,
}

// krakenSendStatus maps sendStatus.status values to human-readable rejection reasons.
var krakenSendStatus = map[string]string{
	"insufficientAvailableFunds": "insufficient available funds",
	"selfFill":                   "order would self fill",
	"tooManySmallOrders":         "too many small orders",
	"maxPositionViolation":       "max position size exceeded",
	"marketSuspended":            "market suspended",
	"marketInactive":             "market inactive",
	"clientOrderIdAlreadyExist":  "duplicate client order id",
	"clientOrderIdTooLong":       "client order id too long",
	"outsideProtectionBands":     "price outside protection bands",
	"postWouldExecute":           "post-only order would execute",
	"iocWouldNotExecute":         "ioc order would not execute",
	"wouldNotReducePosition":     "reduce-only order would not reduce position",
	"invalidPrice":               "invalid price",
	"invalidSize":                "invalid size",
	"unknownOrderType":           "unknown order type",
}

// ClassifyKrakenError converts a Kraken error string into the connector error taxonomy.
func ClassifyKrakenError(op, code string) error {
	code = strings.TrimSpace(code)
	class, ok := krakenErrorCodes[code]
	if !ok {
		if reason, known := krakenSendStatus[code]; known {
			return &RejectedError{Code: code, Reason: reason}
		}
		return &RejectedError{Code: code, Reason: "unknown kraken error"}
	}

	switch class {
	case classTransient:
		return NewTransient(op, fmt.Errorf("kraken futures error: %s", code))
	case classConflict:
		return fmt.Errorf("%s: %w", op, ErrStateConflict)
	case classNotFound:
		return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	default:
		return &RejectedError{Code: code, Reason: code}
	}
}

// classifyHTTPStatus converts a non-200 HTTP response into the connector error taxonomy.
func classifyHTTPStatus(op string, code int, body []byte) error {
	if isRetryableStatus(code) {
		return NewTransient(op, fmt.Errorf("HTTP %d: %s", code, string(body)))
	}
	return &RejectedError{Code: fmt.Sprintf("HTTP_%d", code), Reason: strings.TrimSpace(string(body))}
}
