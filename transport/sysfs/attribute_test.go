// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/backlightd/transport"
)

func TestAttribute_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	require.NoError(t, os.WriteFile(path, []byte("1200\n"), 0o644))

	a := Attribute{Path: path}
	v, err := a.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, 1200, v)

	require.NoError(t, a.WriteInt(7))
	v, err = a.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestAttribute_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	require.NoError(t, os.WriteFile(path, []byte("bright\n"), 0o644))

	_, err := Attribute{Path: path}.ReadInt()
	assert.ErrorIs(t, err, transport.ErrProtocol)
}

func TestAttribute_Missing(t *testing.T) {
	_, err := Attribute{Path: filepath.Join(t.TempDir(), "nope")}.ReadInt()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, transport.ErrIODenied)
}
