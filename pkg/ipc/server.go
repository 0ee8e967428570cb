package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultWriteTimeout bounds a single frame write to one client. A stalled
// client must not hold up the broadcast to the others.
const defaultWriteTimeout = 10 * time.Second

// maxFrameBytes caps one inbound frame. UI frames are tiny; anything
// larger is a protocol error.
const maxFrameBytes = 1 << 20

// ClientHandler receives client → server frames. Called from the
// connection's read goroutine; implementations must not block.
type ClientHandler func(connID string, frame Frame)

// Server broadcasts state-change frames to connected UI clients over a
// Unix-domain socket. Every client receives the same broadcast stream from
// the moment of connection — there is no history replay.
type Server struct {
	path         string
	writeTimeout time.Duration
	onClient     ClientHandler

	ln net.Listener

	mu    sync.RWMutex
	conns map[string]*clientConn

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// clientConn is one connected UI client.
type clientConn struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithClientHandler registers a handler for client frames.
func WithClientHandler(h ClientHandler) Option {
	return func(s *Server) { s.onClient = h }
}

// WithWriteTimeout overrides the per-client write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// NewServer creates a server for the session-unique socket path.
func NewServer(path string, opts ...Option) *Server {
	s := &Server{
		path:         path,
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]*clientConn),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Start binds the socket and begins accepting clients. A stale socket file
// from a previous run at the same path is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	slog.Info("IPC server listening", "socket", s.path)
	return nil
}

// Broadcast sends a frame to every connected client. Send failures are
// logged per client and never fail the broadcast as a whole.
func (s *Server) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal IPC frame", "type", frame.Type, "error", err)
		return
	}
	data = append(data, '\n')

	// Snapshot connections, then send without holding the lock — a slow
	// client write (up to writeTimeout) must not stall accept/unregister.
	s.mu.RLock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := s.send(c, data); err != nil {
			slog.Warn("Failed to send IPC frame to client",
				"connection_id", c.id, "type", frame.Type, "error", err)
		}
	}
}

// ActiveClients returns the number of connected clients.
func (s *Server) ActiveClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close sends a close frame to every client, drops all connections, stops
// the accept loop, and unlinks the socket file. Idempotent.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		if closeFrame, err := NewFrame(FrameClose, nil); err == nil {
			s.Broadcast(closeFrame)
		}

		close(s.done)
		if s.ln != nil {
			_ = s.ln.Close()
		}

		s.mu.Lock()
		for id, c := range s.conns {
			_ = c.conn.Close()
			delete(s.conns, id)
		}
		s.mu.Unlock()

		s.wg.Wait()
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove IPC socket", "socket", s.path, "error", err)
		}
		slog.Info("IPC server closed", "socket", s.path)
	})
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("IPC accept failed", "error", err)
			continue
		}

		c := &clientConn{
			id:   uuid.New().String(),
			conn: conn,
		}
		s.register(c)

		s.wg.Add(1)
		go s.serveClient(ctx, c)
	}
}

// serveClient greets the client with a ready frame, then runs the read
// loop until the client disconnects or sends cancelled.
func (s *Server) serveClient(ctx context.Context, c *clientConn) {
	defer s.wg.Done()
	defer s.unregister(c)

	log := slog.With("connection_id", c.id)
	log.Info("UI client connected")

	ready, err := NewFrame(FrameReady, nil)
	if err == nil {
		if data, merr := json.Marshal(ready); merr == nil {
			_ = s.send(c, append(data, '\n'))
		}
	}

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)

	for scanner.Scan() {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Warn("Invalid IPC frame from client", "error", err)
			continue
		}

		if frame.Type == FrameCancelled {
			log.Info("UI client cancelled, closing connection")
			return
		}

		if s.onClient != nil {
			s.onClient(c.id, frame)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("IPC client read error", "error", err)
	}
	log.Info("UI client disconnected")
}

func (s *Server) send(c *clientConn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

func (s *Server) register(c *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) unregister(c *clientConn) {
	s.mu.Lock()
	if _, ok := s.conns[c.id]; ok {
		delete(s.conns, c.id)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}
