package base

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Classify wraps a backend error into the error taxonomy. Errors that are
// already typed keep their type; anything else becomes a connector-level
// failure categorized by what it looks like.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		if typed.Message == message {
			return err
		}
		return errors.Wrap(err, typed.Type, message)
	}
	return errors.Wrap(err, categorizeError(err), message)
}

// categorizeError determines the error category
func categorizeError(err error) errors.ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.ErrorTypeTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errors.ErrorTypeConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.ErrorTypeTimeout
		}
		return errors.ErrorTypeConnection
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return errors.ErrorTypeTimeout
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "permission denied"):
		return errors.ErrorTypeAuthentication
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "quota"):
		return errors.ErrorTypeRateLimit
	case strings.Contains(errStr, "syntax error") || strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "no such table") || strings.Contains(errStr, "no such column"):
		return errors.ErrorTypeQuery
	default:
		return errors.ErrorTypeConnection
	}
}
