// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import "errors"

// Domain errors for the device package. Check them with errors.Is.
var (
	// ErrNotFound is returned when a device id is not (or no longer) known.
	ErrNotFound = errors.New("device: not found")

	// ErrUnavailable is returned when a device failed too many consecutive
	// transactions to accept writes.
	ErrUnavailable = errors.New("device: unavailable")

	// ErrOutOfRange is returned for a requested value outside what the
	// request's unit allows.
	ErrOutOfRange = errors.New("device: value out of range")
)
