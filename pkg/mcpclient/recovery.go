package mcpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// recoveryAction determines how CallTool responds to a failure. Grounded on
// the teacher's pkg/mcp/recovery.go ClassifyError.
type recoveryAction int

const (
	noRetry recoveryAction = iota
	retryNewSession
)

func classifyError(err error) recoveryAction {
	if err == nil {
		return noRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return noRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return noRetry
		}
		return retryNewSession
	}

	if isConnectionError(err) {
		return retryNewSession
	}

	return noRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
