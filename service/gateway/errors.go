package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ErrorKind classifies a failed RPC call so callers can decide whether the
// failure is worth retrying, was already retried, or hit its deadline.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts on individual attempts,
	// HTTP 429/5xx responses and node-behind reports. The gateway retries
	// these per policy; a surfaced KindTransient error means the retry
	// budget was exhausted.
	KindTransient ErrorKind = iota

	// KindPermanent covers malformed requests, unknown methods and
	// ledger-level rejections (e.g. insufficient funds). Never retried.
	KindPermanent

	// KindTimeout means the caller-supplied deadline expired. Surfaced
	// immediately regardless of remaining retry budget.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the typed failure result for a gateway call.
type Error struct {
	Kind   ErrorKind
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s: %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a gateway error with KindTransient.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTransient
}

// IsPermanent reports whether err is a gateway error with KindPermanent.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindPermanent
}

// IsTimeout reports whether err is a gateway error with KindTimeout.
func IsTimeout(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTimeout
}

// JSON-RPC error codes reported by Solana nodes that indicate the node is
// catching up or overloaded; these are retryable.
const (
	codeNodeUnhealthy  = -32005
	codeBlockNotAvail  = -32004
	codeSlotSkipped    = -32007
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInvalidRequest = -32600
)

// classify maps a raw error from the RPC client to an ErrorKind.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	// Missing accounts are a definitive node answer, not a fault.
	if errors.Is(err, rpc.ErrNotFound) {
		return KindPermanent
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeNodeUnhealthy, codeBlockNotAvail, codeSlotSkipped:
			return KindTransient
		case codeInvalidParams, codeMethodNotFound, codeInvalidRequest:
			return KindPermanent
		}
		// Any other node-reported rejection (simulation failure,
		// insufficient funds, ...) will not improve on retry.
		return KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// The HTTP transport folds status codes into error strings.
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") {
		return KindTransient
	}
	if strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return KindTransient
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF") {
		return KindTransient
	}

	return KindPermanent
}

// retryReason labels a retry for metrics.
func retryReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests"):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transient_error"
	}
}
