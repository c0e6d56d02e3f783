// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package i2c

import (
	"context"
	"fmt"
	"time"

	"github.com/ffutop/backlightd/ddc"
	"github.com/ffutop/backlightd/transport"
)

// Client performs DDC/CI exchanges with the display on one adapter.
type Client struct {
	*Port

	ReplyDelay time.Duration
	SetDelay   time.Duration
}

// NewClient allocates a DDC/CI client for /dev/i2c-<bus>.
func NewClient(bus int) *Client {
	return NewClientWithPort(NewPort(bus, ddc.AddrDDCCI))
}

func NewClientWithPort(port *Port) *Client {
	return &Client{
		Port:       port,
		ReplyDelay: ddc.ReplyDelay,
		SetDelay:   ddc.SetDelay,
	}
}

// GetVCP reads a VCP feature.
func (c *Client) GetVCP(ctx context.Context, feature byte) (ddc.VCPValue, error) {
	resp, err := c.Transmit(ctx, ddc.EncodeGetVCP(feature), c.ReplyDelay, ddc.ReplyLength)
	if err != nil {
		return ddc.VCPValue{}, err
	}
	v, err := ddc.DecodeGetVCPReply(resp, feature)
	if err != nil {
		return ddc.VCPValue{}, fmt.Errorf("%w: %w", transport.ErrProtocol, err)
	}
	return v, nil
}

// SetVCP writes a VCP feature. It returns once the post-write delay has
// passed, so the next transaction on the bus is safe to start.
func (c *Client) SetVCP(ctx context.Context, feature byte, value uint16) error {
	_, err := c.Transmit(ctx, ddc.EncodeSetVCP(feature, value), c.SetDelay, 0)
	return err
}

// ReadEDID reads the EDID base block from the port, which must be bound to
// ddc.AddrEDID.
func ReadEDID(ctx context.Context, port *Port) ([]byte, error) {
	return port.Transmit(ctx, []byte{0x00}, 0, ddc.EDIDBlockSize)
}
