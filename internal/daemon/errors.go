// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	ErrMissingManager    = errors.New("daemon: no manager configured")
	ErrMissingPoller     = errors.New("daemon: no poller configured")
	ErrManagerNotStarted = errors.New("daemon: manager not started")
)
