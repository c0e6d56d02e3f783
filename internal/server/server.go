// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ffutop/backlightd/protocol"
)

const DefaultSocketMode os.FileMode = 0o660

var ErrAlreadyRunning = errors.New("server: another daemon is listening on the socket")

// RequestHandler executes one decoded request.
type RequestHandler interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

// Server serves the control protocol on a Unix socket.
type Server struct {
	Path    string
	Mode    os.FileMode
	Handler RequestHandler

	listener *net.UnixListener
	wg       sync.WaitGroup
}

func New(path string, mode os.FileMode, handler RequestHandler) *Server {
	if mode == 0 {
		mode = DefaultSocketMode
	}
	return &Server{Path: path, Mode: mode, Handler: handler}
}

// Listen binds the socket. A stale socket file left by a previous run is
// removed; a live one is not.
func (s *Server) Listen() error {
	if err := s.removeStale(); err != nil {
		return err
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.Path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Path, err)
	}
	listener.SetUnlinkOnClose(true)
	if err := os.Chmod(s.Path, s.Mode); err != nil {
		listener.Close()
		return fmt.Errorf("failed to chmod %s: %w", s.Path, err)
	}
	s.listener = listener
	slog.Info("control socket listening", "path", s.Path, "mode", fmt.Sprintf("%#o", s.Mode))
	return nil
}

func (s *Server) removeStale() error {
	fi, err := os.Lstat(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", s.Path)
	}
	if conn, err := net.DialTimeout("unix", s.Path, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.Path)
	}
	slog.Info("removing stale control socket", "path", s.Path)
	return os.Remove(s.Path)
}

// Serve accepts connections until ctx is done. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			slog.Error("failed to accept connection", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log := slog.With("session", uuid.NewString())
	if cred, err := peerCredentials(conn); err == nil {
		log = log.With("pid", cred.Pid, "uid", cred.Uid)
	}
	log.Debug("control client connected")

	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil && !errors.Is(err, protocol.ErrVersion) {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug("control client disconnected")
			} else {
				log.Warn("failed to read request", "err", err)
			}
			return
		}

		var resp *protocol.Response
		if err != nil {
			resp = protocol.ErrorResponse(err)
		} else {
			resp = s.dispatch(ctx, log, frame.Body)
		}

		body, err := protocol.Marshal(resp)
		if err != nil {
			log.Error("failed to encode response", "err", err)
			return
		}
		raw, err := (&protocol.Frame{TransactionID: frame.TransactionID, Version: protocol.Version, Body: body}).Encode()
		if err != nil {
			log.Error("failed to encode response", "err", err)
			return
		}
		if _, err := conn.Write(raw); err != nil {
			log.Warn("failed to write response", "err", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, log *slog.Logger, body []byte) *protocol.Response {
	var req protocol.Request
	if err := protocol.Unmarshal(body, &req); err != nil {
		log.Warn("malformed request", "err", err)
		return protocol.ErrorResponse(err)
	}
	resp := s.Handler.Handle(ctx, &req)
	if resp.Code != protocol.CodeOK {
		log.Info("request failed", "op", req.Op, "device", req.DeviceID, "code", resp.Code, "err", resp.Message)
	} else {
		log.Debug("request", "op", req.Op, "device", req.DeviceID)
	}
	return resp
}

func peerCredentials(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}
