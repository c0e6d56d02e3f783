// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultSocketPath = "/run/backlightd.sock"
	clientTimeout     = 10 * time.Second
)

// Client talks to the daemon over one Unix socket connection. It is safe for
// concurrent use; requests are sent one at a time.
type Client struct {
	Path    string
	Timeout time.Duration

	transactionID uint32 // Atomic counter

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates a client for the socket at path.
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Client{
		Path:    path,
		Timeout: clientTimeout,
	}
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.Path, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Do sends req and waits for its response. A response carrying an error code
// is returned together with a *ResponseError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	body, err := Marshal(req)
	if err != nil {
		return nil, err
	}
	frame := &Frame{
		TransactionID: uint16(atomic.AddUint32(&c.transactionID, 1)),
		Version:       Version,
		Body:          body,
	}
	raw, err := frame.Encode()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	slog.Debug("send to backlightd", "request", hex.EncodeToString(raw))
	respFrame, err := c.exchange(raw)
	if err != nil {
		// The stream may be out of sync; start over next time.
		c.conn.Close()
		c.conn = nil
		return nil, err
	}
	if err := frame.Verify(respFrame); err != nil {
		c.conn.Close()
		c.conn = nil
		return nil, err
	}

	var resp Response
	if err := Unmarshal(respFrame.Body, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Err()
}

func (c *Client) exchange(raw []byte) (*Frame, error) {
	if _, err := c.conn.Write(raw); err != nil {
		return nil, err
	}
	return ReadFrame(c.conn)
}

func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpListDevices})
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (c *Client) GetBrightness(ctx context.Context, id string) (*Brightness, error) {
	resp, err := c.Do(ctx, &Request{Op: OpGetBrightness, DeviceID: id})
	if err != nil {
		return nil, err
	}
	return resp.Brightness, nil
}

// SetBrightness sets an absolute value and returns what the daemon accepted.
func (c *Client) SetBrightness(ctx context.Context, id string, value float64, unit Unit) (*Brightness, error) {
	resp, err := c.Do(ctx, &Request{Op: OpSetBrightness, DeviceID: id, Value: value, HasValue: true, Unit: unit})
	if err != nil {
		return nil, err
	}
	return resp.Brightness, nil
}

// AdjustBrightness changes brightness by delta percentage points.
func (c *Client) AdjustBrightness(ctx context.Context, id string, delta float64) (*Brightness, error) {
	resp, err := c.Do(ctx, &Request{Op: OpAdjustBrightness, DeviceID: id, Value: delta, HasValue: true, Unit: UnitPercent})
	if err != nil {
		return nil, err
	}
	return resp.Brightness, nil
}

func (c *Client) SetMode(ctx context.Context, id, mode string) (*ModeInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpSetMode, DeviceID: id, Mode: mode})
	if err != nil {
		return nil, err
	}
	return resp.Mode, nil
}

// SetManual pins the device to manual mode at value in one request.
func (c *Client) SetManual(ctx context.Context, id string, value float64, unit Unit) (*ModeInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpSetMode, DeviceID: id, Mode: "manual", Value: value, HasValue: true, Unit: unit})
	if err != nil {
		return nil, err
	}
	return resp.Mode, nil
}

func (c *Client) GetMode(ctx context.Context, id string) (*ModeInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpGetMode, DeviceID: id})
	if err != nil {
		return nil, err
	}
	return resp.Mode, nil
}

func (c *Client) SetPower(ctx context.Context, id string, on bool) error {
	_, err := c.Do(ctx, &Request{Op: OpSetPower, DeviceID: id, Power: on})
	return err
}

func (c *Client) Rescan(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpRescan})
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (c *Client) Refresh(ctx context.Context, id string) (*Brightness, error) {
	resp, err := c.Do(ctx, &Request{Op: OpRefresh, DeviceID: id})
	if err != nil {
		return nil, err
	}
	return resp.Brightness, nil
}

func (c *Client) GetSchedule(ctx context.Context) (*ScheduleInfo, error) {
	resp, err := c.Do(ctx, &Request{Op: OpGetSchedule})
	if err != nil {
		return nil, err
	}
	return resp.Schedule, nil
}
