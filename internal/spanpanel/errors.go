// SPDX-License-Identifier: MIT

package spanpanel

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("panel: resource not found")
	ErrForbidden           = errors.New("panel: authentication required or token rejected")
	ErrUpstreamUnavailable = errors.New("panel: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("panel: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("panel: invalid response format or malformed data")
	ErrTimeout             = errors.New("panel: request timed out")
)

// PanelError is a rich error type that wraps the sentinel errors with context.
type PanelError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *PanelError) Error() string {
	msg := fmt.Sprintf("spanpanel: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PanelError) Unwrap() error {
	return e.Sentinel
}
