package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/strouter/internal/log"
)

const (
	DefaultMaxRequestBytes = 1 << 20
	DefaultIdleTimeout     = 5 * time.Minute
)

// ErrSocketInUse means another process still accepts connections on the
// control socket.
var ErrSocketInUse = errors.New("control socket in use")

// ServerOption configures a UDSServer.
type ServerOption func(*UDSServer)

// WithMaxRequestBytes bounds one newline framed request. A client that sends
// a longer line gets an invalid request error and is disconnected.
func WithMaxRequestBytes(n int) ServerOption {
	return func(s *UDSServer) {
		if n > 0 {
			s.maxRequest = n
		}
	}
}

// WithIdleTimeout closes connections that send nothing for d. Zero disables
// the timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *UDSServer) { s.idleTimeout = d }
}

// UDSServer serves the JSON-RPC control API on a Unix domain socket, one
// request per line.
type UDSServer struct {
	socketPath  string
	handler     *CommandHandler
	maxRequest  int
	idleTimeout time.Duration
	logger      log.Logger
	connSeq     atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

func NewUDSServer(socketPath string, handler *CommandHandler, opts ...ServerOption) *UDSServer {
	s := &UDSServer{
		socketPath:  socketPath,
		handler:     handler,
		maxRequest:  DefaultMaxRequestBytes,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
		logger:      log.ForComponent("uds"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the socket and serves until ctx is cancelled.
func (s *UDSServer) Start(ctx context.Context) error {
	if err := s.claimSocket(); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		l.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		l.Close()
		os.Remove(s.socketPath)
		return nil
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"socket":       s.socketPath,
		"max_request":  s.maxRequest,
		"idle_timeout": s.idleTimeout,
	}).Info("uds server started")

	go s.acceptLoop(ctx, l)

	<-ctx.Done()
	return s.Stop()
}

// claimSocket removes a socket file left behind by a router that exited
// without cleaning up. A socket that still accepts connections belongs to a
// running router and is left alone.
func (s *UDSServer) claimSocket() error {
	fi, err := os.Lstat(s.socketPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket %s: %w", s.socketPath, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", s.socketPath)
	}
	if conn, err := net.DialTimeout("unix", s.socketPath, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, s.socketPath)
	}
	s.logger.WithField("socket", s.socketPath).Warn("removing stale control socket")
	if err := os.Remove(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

func (s *UDSServer) acceptLoop(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isStopped() {
				return
			}
			s.logger.WithError(err).Error("failed to accept connection")
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(ctx, conn, s.connSeq.Add(1))
	}
}

func (s *UDSServer) serve(ctx context.Context, conn net.Conn, id uint64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	logger := s.logger.WithField("conn", id)
	logger.Debug("connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), s.maxRequest)
	encoder := json.NewEncoder(conn)

	for {
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		if err := encoder.Encode(s.dispatch(ctx, logger, scanner.Bytes())); err != nil {
			logger.WithError(err).Warn("failed to send response")
			return
		}
	}

	var netErr net.Error
	switch err := scanner.Err(); {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		logger.WithField("limit", s.maxRequest).Warn("request too large, closing connection")
		encoder.Encode(JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nullID,
			Error:   &ErrorInfo{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("request exceeds %d bytes", s.maxRequest)},
		})
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("idle connection closed")
	case s.isStopped():
	default:
		logger.WithError(err).Debug("connection error")
	}
	logger.Debug("connection closed")
}

// dispatch runs one request line through the handler.
func (s *UDSServer) dispatch(ctx context.Context, logger log.Logger, line []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		logger.WithError(err).Warn("failed to parse request")
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nullID,
			Error:   &ErrorInfo{Code: ErrCodeParseError, Message: fmt.Sprintf("parse error: %v", err)},
		}
	}
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &ErrorInfo{Code: ErrCodeInvalidRequest, Message: "expected jsonrpc 2.0 request with a method"},
		}
	}

	fields := map[string]interface{}{"method": req.Method, "id": requestID(id)}
	var target struct {
		Instance *int `json:"instance"`
	}
	if json.Unmarshal(req.Params, &target) == nil && target.Instance != nil {
		fields["instance"] = *target.Instance
	}

	start := time.Now()
	resp := s.handler.Handle(ctx, Command{Method: req.Method, Params: req.Params, ID: requestID(id)})
	fields["duration"] = time.Since(start)
	if resp.Error != nil {
		logger.WithFields(fields).WithField("code", resp.Error.Code).Warn(resp.Error.Message)
	} else {
		logger.WithFields(fields).Debug("request served")
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: resp.Result, Error: resp.Error}
}

func (s *UDSServer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop closes the listener and every open connection and waits for the
// handlers. The socket file is removed only if this server created it.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	l := s.listener
	if l != nil {
		l.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if l != nil {
		os.Remove(s.socketPath)
	}
	s.logger.Info("uds server stopped")
	return nil
}

var nullID = json.RawMessage("null")

// requestID renders a JSON-RPC id as the handler's string id: strings lose
// their quotes, numbers keep their literal form, null becomes empty.
func requestID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str
	}
	return string(raw)
}

// JSONRPCRequest is one JSON-RPC 2.0 request line.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// JSONRPCResponse is one JSON-RPC 2.0 response line. ID echoes the request
// id verbatim.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}
