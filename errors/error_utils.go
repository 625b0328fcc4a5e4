package errors

import (
	"context"
	"errors"
)

// IsPeerError reports whether the error was caused by a remote peer (bad data, protocol
// misuse or silence) rather than by the local node. Peer errors are resolved by punishing
// the peer and retrying elsewhere, never surfaced as node failures.
func IsPeerError(err error) bool {
	switch CodeOf(err) {
	case ERR_BLOCK_INVALID,
		ERR_REQUEST_TIMEOUT,
		ERR_PEER_PROTOCOL_VIOLATION,
		ERR_PEER_UNEXPECTED_MESSAGE:
		return true
	}

	return false
}

// IsMaliciousResponseError determines if an error indicates a peer that sent data it should
// never have sent, as opposed to one that merely failed to answer.
func IsMaliciousResponseError(err error) bool {
	switch CodeOf(err) {
	case ERR_BLOCK_INVALID,
		ERR_PEER_PROTOCOL_VIOLATION:
		return true
	}

	return false
}

// IsContextError determines if an error is related to context cancellation or deadline.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return CodeOf(err) == ERR_CONTEXT_CANCELED
}

// GetErrorCategory returns a short label for logs and metrics.
func GetErrorCategory(err error) string {
	if err == nil {
		return "none"
	}

	if IsContextError(err) {
		return "context"
	}

	if IsMaliciousResponseError(err) {
		return "malicious"
	}

	code := CodeOf(err)

	switch {
	case code == ERR_REQUEST_TIMEOUT:
		return "timeout"
	case code >= 10 && code <= 19:
		return "block"
	case code >= 50 && code <= 59:
		return "service"
	case code >= 60 && code <= 69:
		return "storage"
	case code >= 110 && code <= 119:
		return "network"
	case code == ERR_CONFIGURATION:
		return "configuration"
	}

	return "unknown"
}
