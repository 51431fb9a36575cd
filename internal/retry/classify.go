package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Class is the retry classification of an error.
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of Classify.
type Decision struct {
	Class  Class
	Reason string
}

// IsTransient reports whether the failure is worth retrying.
func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

// CodedError is implemented by JSON-RPC errors that carry a numeric code.
type CodedError interface {
	error
	RPCCode() int
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"rate limit",
	"429",
	"too many requests",
	"connection reset",
	"connection refused",
	"eof",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporarily unavailable",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"insufficient",
	"reverted",
}

// Classify decides whether err is transient (network trouble, rate limits,
// server-side JSON-RPC errors) or terminal.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}
	if IsPermanent(err) {
		return Decision{Class: ClassTerminal, Reason: "explicit_permanent"}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	var coded CodedError
	if errors.As(err, &coded) {
		return classifyJSONRPCCode(coded.RPCCode())
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}
	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// IsTransient is a ShouldRetry helper.
func IsTransient(err error) bool {
	return Classify(err).IsTransient()
}

func classifyJSONRPCCode(code int) Decision {
	if code == -32603 || code == -32005 {
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_transient"}
	}
	if code <= -32000 && code >= -32099 {
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_range"}
	}
	return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
