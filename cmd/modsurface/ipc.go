package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// ============================================================================
// IPC - Unix Domain Socket Intent Injection
// ============================================================================
// Scripts and surfacectl inject intents as if a control had been used.
//
// Protocol: line-delimited JSON, one reply per line
//   -> {"type":"rotate","data":{"slot":0,"direction":1}}
//   <- {"status":"ok"} | {"status":"error","error":"..."}
// ============================================================================

// IPCResponse is the reply to one request line.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func ipcOK() IPCResponse { return IPCResponse{Status: "ok"} }

func ipcError(format string, args ...any) IPCResponse {
	return IPCResponse{Status: "error", Error: fmt.Sprintf(format, args...)}
}

// handleIPCLine decodes one request and queues its intent without blocking.
func handleIPCLine(line []byte, intents chan<- Intent) IPCResponse {
	in, err := UnmarshalIntent(line)
	if err != nil {
		return ipcError("parse intent: %v", err)
	}
	select {
	case intents <- in:
		return ipcOK()
	default:
		return ipcError("intent queue full")
	}
}

// runIPCServer serves the socket until ctx is canceled. A stale socket file is
// replaced; the file is removed on exit.
func runIPCServer(ctx context.Context, socketPath string, intents chan<- Intent, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	logger.Info("IPC listening", "socket", socketPath)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	defer stop()

	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveIPCConn(conn, intents, logger)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

// serveIPCConn answers request lines on conn until the peer hangs up.
func serveIPCConn(conn net.Conn, intents chan<- Intent, logger *slog.Logger) {
	defer conn.Close()
	logger.Debug("IPC client connected")

	out := json.NewEncoder(conn)
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		resp := handleIPCLine(sc.Bytes(), intents)
		if resp.Status != "ok" {
			logger.Debug("IPC request rejected", "error", resp.Error)
		}
		if err := out.Encode(resp); err != nil {
			logger.Warn("IPC reply failed", "error", err)
			return
		}
	}
}

// SendIPCIntent sends one intent to the daemon socket and waits for the reply.
func SendIPCIntent(socketPath string, in Intent) error {
	payload, err := MarshalIntent(in)
	if err != nil {
		return err
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("send intent: %w", err)
	}
	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("daemon rejected intent: %s", resp.Error)
	}
	return nil
}
