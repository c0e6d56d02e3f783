// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeout is returned when a transaction did not complete within the
	// lane's timeout. The lane has been released.
	ErrTimeout = errors.New("transport: timeout")
	// ErrProtocol is returned when a device answered with something that does
	// not decode (bad checksum, null message, unparsable attribute).
	ErrProtocol = errors.New("transport: protocol error")
	// ErrIODenied is returned when the OS refused access to the bus or file.
	ErrIODenied = errors.New("transport: i/o denied")
	// ErrBusy is returned by TryDo when the lane is held.
	ErrBusy = errors.New("transport: lane busy")
)

const DefaultTimeout = 2 * time.Second

// Transaction is one bus exchange. It must honour ctx.
type Transaction func(ctx context.Context) error

// Lane serializes transactions on one physical bus. At most one transaction
// per lane is in flight at any time.
type Lane struct {
	name    string
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewLane creates a lane. A non-positive timeout means DefaultTimeout.
func NewLane(name string, timeout time.Duration) *Lane {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lane{
		name:    name,
		timeout: timeout,
		sem:     semaphore.NewWeighted(1),
	}
}

func (l *Lane) Name() string { return l.name }

// Do waits for the lane, then runs tx under the lane timeout. Waiting is
// abandoned when ctx is done.
func (l *Lane) Do(ctx context.Context, tx Transaction) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	return l.run(ctx, tx)
}

// TryDo runs tx only if the lane is free right now, otherwise it returns
// ErrBusy without running it.
func (l *Lane) TryDo(ctx context.Context, tx Transaction) error {
	if !l.sem.TryAcquire(1) {
		return ErrBusy
	}
	return l.run(ctx, tx)
}

// run executes tx while holding the lane. Caller must have acquired it.
func (l *Lane) run(parent context.Context, tx Transaction) error {
	defer l.sem.Release(1)

	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- tx(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			return fmt.Errorf("%w: lane %s after %v", ErrTimeout, l.name, l.timeout)
		}
		return err
	case <-ctx.Done():
		if parent.Err() != nil {
			return parent.Err()
		}
		slog.Warn("bus transaction timed out", "lane", l.name, "timeout", l.timeout)
		return fmt.Errorf("%w: lane %s after %v", ErrTimeout, l.name, l.timeout)
	}
}
