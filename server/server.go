// Package server implements the agent's listener and per-connection
// service loop.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → read bytes → protocol.Parse → codec.Decode → Dispatcher → codec.Encode → protocol.Encode
//
// Each connection is serviced strictly sequentially: one in-flight request
// at a time, responses emitted in the order requests were received.
// Connections are independent of each other; the only shared state is the
// read-only capability registry behind the dispatcher.
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
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hostagent/capability"
	"hostagent/codec"
	"hostagent/discovery"
	"hostagent/dispatch"
	"hostagent/message"
	"hostagent/middleware"
	"hostagent/protocol"
)

const readChunkSize = 4096

// Server owns the listening socket and spawns one connection service per
// accepted connection.
type Server struct {
	dispatcher    *dispatch.Dispatcher
	logger        *slog.Logger
	listener      net.Listener
	wg            sync.WaitGroup // Tracks in-flight dispatches for graceful shutdown
	mu            sync.Mutex     // Orders new dispatches against Shutdown's Wait
	shutdown      atomic.Bool    // Set during shutdown; written under mu
	directory     discovery.Directory
	advertiseAddr string
}

// New creates a server dispatching against the given registry. Middlewares
// are applied in order around the dispatch step. A nil logger disables
// logging.
func New(registry *capability.Registry, logger *slog.Logger, middlewares ...middleware.Middleware) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		dispatcher: dispatch.New(registry, middlewares...),
		logger:     logger,
	}
}

// Serve binds the listener and enters the accept loop. Bind failure
// (address in use, permission denied, invalid address) is returned
// immediately and is fatal at startup — it is never retried.
//
// advertiseAddr is the address announced in the agent directory (e.g.
// "10.0.0.5:7101"); it differs from the listen address because ":7101" is
// not routable. dir may be nil to skip announcement.
func (svr *Server) Serve(network, address, advertiseAddr string, dir discovery.Directory) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("bind %s %s: %w", network, address, err)
	}
	return svr.ServeListener(listener, advertiseAddr, dir)
}

// ServeListener runs the accept loop on an already-bound listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, dir discovery.Directory) error {
	svr.listener = listener

	svr.advertiseAddr = advertiseAddr
	if dir != nil {
		svr.directory = dir
		hostname, _ := os.Hostname()
		if err := dir.Announce(discovery.Agent{Addr: advertiseAddr, Hostname: hostname}, 10); err != nil {
			listener.Close()
			return fmt.Errorf("announce agent: %w", err)
		}
	}

	svr.logger.Info("listening", "address", listener.Addr().String())

	// Accept loop: one goroutine per connection.
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() makes Accept fail. The
			// shutdown flag distinguishes intentional close from real
			// errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn services a single connection until the peer disconnects, the
// framing becomes unrecoverable, or a write fails. It is a small state
// machine: read → decode → dispatch → encode → write → read, with Closed as
// the terminal state (the function returning).
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	logger := svr.logger.With("conn", uuid.NewString(), "peer", conn.RemoteAddr().String())
	logger.Debug("connection open")

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		header, body, consumed, err := protocol.Parse(buf)
		if errors.Is(err, protocol.ErrNeedMore) {
			n, rerr := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				// io.EOF is the peer hanging up cleanly; anything else is a
				// transport fault. Either way this connection is done and
				// the process carries on.
				if !errors.Is(rerr, io.EOF) {
					logger.Warn("read failed", "err", rerr)
				}
				logger.Debug("connection closed")
				return
			}
			continue
		}
		if err != nil {
			// Unrecoverable framing: the peer cannot speak the protocol.
			// Abort without a response.
			logger.Warn("malformed frame, aborting connection", "err", err)
			return
		}
		buf = buf[consumed:]

		// Heartbeats keep the connection alive and are never answered.
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		// Only the server emits response frames. A peer that sends one is
		// not speaking the protocol; abort without a response.
		if header.MsgType != protocol.MsgTypeRequest {
			logger.Warn("unexpected message type, aborting connection", "msgtype", header.MsgType)
			return
		}

		resp := svr.serveRequest(header, body)
		if !svr.writeResponse(conn, header, resp) {
			// The peer may have closed mid-dispatch; the completed result
			// is discarded and that is not an error.
			logger.Debug("response write failed, closing connection")
			return
		}
	}
}

// serveRequest decodes one frame body and dispatches it, always producing a
// response. A body that cannot be decoded into a Request is a
// protocol-level error response; the connection continues.
func (svr *Server) serveRequest(header *protocol.Header, body []byte) *message.Response {
	// Track in-flight dispatches so Shutdown can wait for them to finish.
	if !svr.beginDispatch() {
		return message.Errf(message.KindOperationFailed, "agent shutting down")
	}
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var req message.Request
	if err := c.Decode(body, &req); err != nil {
		return message.Errf(message.KindProtocol, "undecodable request body: %v", err)
	}
	return svr.dispatcher.Dispatch(context.Background(), &req)
}

// beginDispatch registers an in-flight dispatch with the shutdown
// WaitGroup. The mutex orders it against Shutdown: once the shutdown flag
// is set, no dispatch can be added behind a Wait already in progress.
func (svr *Server) beginDispatch() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// writeResponse encodes and writes resp in the codec the request arrived
// in, echoing the request's sequence number. Reports whether the connection
// is still usable.
func (svr *Server) writeResponse(conn net.Conn, reqHeader *protocol.Header, resp *message.Response) bool {
	c := codec.GetCodec(codec.CodecType(reqHeader.CodecType))
	body, err := c.Encode(resp)
	if err != nil {
		// The envelope types always encode; treat failure as fatal for the
		// connection rather than leave the request unanswered silently.
		svr.logger.Error("encode response", "err", err)
		return false
	}
	replyHeader := protocol.Header{
		CodecType: reqHeader.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       reqHeader.Seq,
		BodyLen:   uint32(len(body)),
	}
	return protocol.Encode(conn, &replyHeader, body) == nil
}

// Shutdown performs graceful shutdown:
//  1. Withdraw from the agent directory (callers stop routing here)
//  2. Set the shutdown flag (so the Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight dispatches to finish, up to the timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.directory != nil {
		if err := svr.directory.Withdraw(svr.advertiseAddr); err != nil {
			svr.logger.Warn("withdraw from directory", "err", err)
		}
	}

	// Flag before close: otherwise the Accept error races the flag and
	// Serve returns a spurious error. Written under mu so beginDispatch
	// cannot Add behind the Wait below.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight dispatches to finish")
	}
}
