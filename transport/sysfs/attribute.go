// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sysfs reads and writes integer attributes under /sys.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/ffutop/backlightd/transport"
)

// Attribute is a single sysfs file holding one decimal integer.
type Attribute struct {
	Path string
}

func (a Attribute) ReadInt() (int, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return 0, a.wrap(err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", transport.ErrProtocol, a.Path, strings.TrimSpace(string(data)))
	}
	return v, nil
}

func (a Attribute) WriteInt(v int) error {
	f, err := os.OpenFile(a.Path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return a.wrap(err)
	}
	if _, err := f.WriteString(strconv.Itoa(v)); err != nil {
		f.Close()
		return a.wrap(err)
	}
	return a.wrap(f.Close())
}

func (a Attribute) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", transport.ErrIODenied, a.Path, err)
	}
	return fmt.Errorf("sysfs: %s: %w", a.Path, err)
}
