package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatd/events"
	"chatd/state"

	"golang.org/x/sync/semaphore"
)

const acceptBackoff = 100 * time.Millisecond

type ServerConfig struct {
	Addr             string
	MaxConnections   int
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	StopTimeout      time.Duration
	StrictBodyLength bool
}

// Lifecycle is the acceptor state: Stopped, Listening, then Draining during
// a graceful stop.
type Lifecycle int

const (
	StateStopped Lifecycle = iota
	StateListening
	StateDraining
)

func (l Lifecycle) String() string {
	switch l {
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

var ErrAlreadyStarted = errors.New("server already started")

type Server struct {
	config     *ServerConfig
	log        *slog.Logger
	state      *state.Store
	out        *events.Outbound
	controller *Controller

	mu         sync.Mutex
	lifecycle  Lifecycle
	listener   net.Listener
	cancel     context.CancelFunc
	acceptDone chan struct{}
	sessions   map[*Session]struct{}
	closing    bool

	pool     *semaphore.Weighted
	handlers sync.WaitGroup
}

func New(log *slog.Logger, store Store, st *state.Store, out *events.Outbound, config *ServerConfig) *Server {
	if config.MaxConnections <= 0 {
		config.MaxConnections = 100
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}

	return &Server{
		config:     config,
		log:        log,
		state:      st,
		out:        out,
		controller: NewController(log, store, st, out),
		sessions:   make(map[*Session]struct{}),
	}
}

// Start binds the listening socket and accepts connections on a separate
// goroutine until Stop or GracefulStop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != StateStopped {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = listener
	s.cancel = cancel
	s.acceptDone = make(chan struct{})
	s.pool = semaphore.NewWeighted(int64(s.config.MaxConnections))
	s.lifecycle = StateListening
	s.closing = false

	s.log.Info("Chat server started", "addr", listener.Addr().String(), "max_connections", s.config.MaxConnections)
	go s.acceptLoop(ctx, listener, s.pool, s.acceptDone)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, pool *semaphore.Weighted, done chan struct{}) {
	defer close(done)

	for {
		// a full pool holds back Accept instead of refusing connections
		if err := pool.Acquire(ctx, 1); err != nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			pool.Release(1)
			if errors.Is(err, net.ErrClosed) {
				s.log.Info("Listener closed")
				return
			}
			s.log.Error("Error accepting connection", "error", err)
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer pool.Release(1)
			s.handleConnection(conn)
		}()
	}
}

// Addr is the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// closeListener moves the server towards next and returns the live
// sessions. A Stop after a timed out GracefulStop finds the listener already
// closed and only escalates to closing the remaining sessions.
func (s *Server) closeListener(next Lifecycle) ([]*Session, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.lifecycle {
	case StateStopped:
		return nil, nil, false
	case StateListening:
		s.lifecycle = next
		s.listener.Close()
		s.cancel()
	case StateDraining:
		if next == StateDraining {
			return nil, nil, false
		}
	}
	if next == StateStopped {
		s.closing = true
	}

	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions, s.acceptDone, true
}

func (s *Server) stopped() {
	s.mu.Lock()
	s.lifecycle = StateStopped
	s.listener = nil
	s.mu.Unlock()
}

// Stop closes the listener and every connection, including those left over
// by a GracefulStop that timed out. It reports whether all handlers exited
// within the configured stop timeout.
func (s *Server) Stop() bool {
	sessions, acceptDone, ok := s.closeListener(StateStopped)
	if !ok {
		return true
	}
	<-acceptDone

	for _, sess := range sessions {
		sess.Close()
	}
	drained := s.wait(s.config.StopTimeout)
	s.stopped()
	s.log.Info("Chat server stopped", "drained", drained)
	return drained
}

// GracefulStop stops accepting at once, lets every handler finish its
// current request and waits up to timeout for them to exit. Handlers still
// running at the deadline are left alone, the server stays draining and
// false is returned; Stop closes what is left.
func (s *Server) GracefulStop(timeout time.Duration) bool {
	sessions, acceptDone, ok := s.closeListener(StateDraining)
	if !ok {
		return true
	}
	<-acceptDone

	s.log.Info("Draining connections", "sessions", len(sessions), "timeout", timeout)
	for _, sess := range sessions {
		sess.drain()
	}
	if !s.wait(timeout) {
		s.log.Warn("Graceful stop timed out", "remaining", s.activeSessions())
		return false
	}
	s.stopped()
	s.log.Info("Chat server stopped gracefully")
	return true
}

func (s *Server) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	draining, closing := s.lifecycle == StateDraining, s.closing
	s.mu.Unlock()
	switch {
	case closing:
		sess.Close()
	case draining:
		sess.drain()
	}
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) activeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) publish(evt events.Event) {
	if s.out != nil {
		s.out.Publish(evt)
	}
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	st := s.state.Stats()
	var dropped uint64
	if s.out != nil {
		dropped = s.out.Dropped()
	}

	return "state=" + s.State().String() +
		",sessions=" + strconv.Itoa(s.activeSessions()) +
		",connections=" + strconv.Itoa(st.Connections) +
		",users=" + strings.Join(st.Users, ";") +
		",groups=" + strconv.Itoa(st.Groups) +
		",invitations=" + strconv.Itoa(st.Invitations) +
		",dropped=" + fmt.Sprint(dropped)
}
