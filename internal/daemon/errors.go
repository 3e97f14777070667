// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingLogger is returned when no logger is provided.
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingStore is returned when the store client is not provided.
	ErrMissingStore = errors.New("store client is required")

	// ErrMissingHub is returned when the session hub is not provided.
	ErrMissingHub = errors.New("session hub is required")

	// ErrMissingSubscriber is returned when the flip subscriber is not provided.
	ErrMissingSubscriber = errors.New("flip subscriber is required")

	// ErrMissingAPIHandler is returned when the API handler is not provided.
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrManagerNotStarted is returned when shutting down a manager that never started.
	ErrManagerNotStarted = errors.New("manager not started")
)
